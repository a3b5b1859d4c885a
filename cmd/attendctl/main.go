package main

import "qrattendance/cmd/attendctl/arg"

func main() {
	arg.Execute()
}
