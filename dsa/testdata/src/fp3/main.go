package fp3

func bar() {}

func call(fp func()) { fp() } // want `indirect call targets: bar, call`

func dispatch(outer func(func())) { outer(bar) } // want `indirect call targets: call, dispatch`

func main() { dispatch(call) }
