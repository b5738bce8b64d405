package fp2

func foo(v *int) *int { return v }

func call(fp func(*int) *int, v *int) *int { return fp(v) } // want `indirect call targets: call, foo`

func main() *int {
	mval := new(int)
	return call(foo, mval)
}
