// Command tuyalanctl is a thin operator CLI exercising the tuyalan
// library end to end: discovery, connect, get/set data points, and
// status watching.
package main

import "github.com/tuyalan/tuyalan/cmd/tuyalanctl/cmd"

func main() {
	cmd.Execute()
}
