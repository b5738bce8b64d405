package fp5

func extern_fn() func()

func main() {
	fp := extern_fn()
	fp() // want `incomplete indirect call target set: `
}
