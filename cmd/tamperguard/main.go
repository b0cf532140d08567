// Command tamperguard guards a live page in Chrome and runs the tamper
// event collector.
package main

func main() {
	Execute()
}
