package main

import (
	"fmt"
	"os"

	"github.com/Ilia01/jira2pr/internal/app"
	"github.com/Ilia01/jira2pr/internal/models"
	"github.com/Ilia01/jira2pr/internal/utils"
)

func main() {
	if err := app.Execute(); err != nil {
		if kind := models.ErrorKind(err); kind != "error" {
			fmt.Fprintf(os.Stderr, "\n%s %s\n", utils.Red("Error ("+kind+"):"), err)
		} else {
			fmt.Fprintf(os.Stderr, "\n%s %s\n", utils.Red("Error:"), err)
		}
		os.Exit(1)
	}
}
