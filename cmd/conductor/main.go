// Command conductor coordinates coding agents over a shared task graph.
package main

func main() {
	Execute()
}
