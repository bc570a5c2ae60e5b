// hcom is the messaging fabric for co-resident AI coding assistants.
package main

import (
	"os"

	"github.com/hcomhq/hcom/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
