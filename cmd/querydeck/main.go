// Command querydeck runs the query execution service over stdio or HTTP.
package main

import (
	"os"
)

func main() {
	os.Exit(execute())
}
