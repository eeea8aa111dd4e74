// Command app downloads a numbered series of page images, binds them into
// a PDF and optionally strips a watermark from the result.
package main

func main() {
	Execute()
}
