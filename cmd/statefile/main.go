// Command statefile inspects and maintains statefile JSON documents and their
// backups without knowing the record types stored in them.
package main

func main() {
	Execute()
}
