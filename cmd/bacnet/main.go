// Package main provides the bacnet-go command-line interface.
package main

func main() {
	Execute()
}
