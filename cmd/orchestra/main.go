// Command orchestra decomposes queries into subtask plans and runs them
// against a pool of agents.
package main

func main() {
	Execute()
}
