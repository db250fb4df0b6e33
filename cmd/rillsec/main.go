// Package main provides the rillsec CLI: static security analysis and
// capability policy management for Rill programs.
package main

func main() {
	Execute()
}
