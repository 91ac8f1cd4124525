package main

import (
	"fmt"
	"os"
	"strings"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/corpus"
	"www.velocidex.com/golang/velopack/inventory"
	"www.velocidex.com/golang/velopack/json"
)

var (
	inventory_command = app.Command(
		"inventory", "Show the deduplicated tool dependencies of a corpus.")

	inventory_command_source = inventory_command.Flag(
		"source", "Artifact corpus root (directory or zip archive).").
		Required().String()

	inventory_command_json = inventory_command.Flag(
		"json", "Emit the tool database as JSON.").Bool()
)

// Pure load + index - no network access, useful for inspecting a
// corpus before committing to a build.
func doInventory() error {
	config_obj := config.GetDefaultConfig()
	config_obj.Source = *inventory_command_source

	collection, err := corpus.LoadCorpus(config_obj, config_obj.Source)
	if err != nil {
		return err
	}

	db := inventory.BuildDatabase(config_obj, collection)

	if *inventory_command_json {
		fmt.Println(json.StringIndent(db.Tools()))
		return nil
	}

	fmt.Printf("%v artifacts, %v unique tools\n\n",
		collection.Len(), db.Len())

	for _, tool := range db.Tools() {
		fmt.Printf("%v", tool.Name)
		if tool.Version != "" {
			fmt.Printf(" (version %v)", tool.Version)
		}
		fmt.Printf("\n")
		if tool.Url != "" {
			fmt.Printf("  url: %v\n", tool.Url)
		}
		fmt.Printf("  used by: %v\n", strings.Join(tool.UsedBy, ", "))
	}

	for _, warning := range collection.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", warning)
	}
	for _, warning := range db.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", warning)
	}

	return nil
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case inventory_command.FullCommand():
			err := doInventory()
			kingpin.FatalIfError(err, "inventory")

		default:
			return false
		}
		return true
	})
}
