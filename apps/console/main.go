package main

// TODO: serve static assets (css) for the console templates
func main() {
	startWithDig()
}
