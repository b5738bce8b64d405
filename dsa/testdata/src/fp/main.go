package fp

var FP func(*int) *int

func foo(v *int) *int { return v }

func main() *int {
	val := new(int)
	FP = foo
	fptr := FP
	val2 := fptr(val) // want `indirect call targets: foo`
	return val2
}
