// Command runinctl drives a device running the runin agent over a serial link.
package main

func main() {
	Execute()
}
