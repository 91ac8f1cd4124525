package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/corpus"
	"www.velocidex.com/golang/velopack/fetcher"
	"www.velocidex.com/golang/velopack/inventory"
	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/packager"
	"www.velocidex.com/golang/velopack/reporting"
)

var (
	build_command = app.Command(
		"build", "Build deployment packages from an artifact corpus.")

	build_command_source = build_command.Flag(
		"source", "Artifact corpus root (directory or zip archive).").
		Required().String()

	build_command_output = build_command.Flag(
		"output", "Directory to write packages and reports to.").
		Required().String()

	build_command_package = build_command.Flag(
		"package", "Which packages to build (server, client or both).").
		Default("both").Enum("server", "client", "both")

	build_command_concurrency = build_command.Flag(
		"concurrency", "Number of concurrent tool downloads.").Int()

	build_command_cache = build_command.Flag(
		"cache", "Directory where downloaded tools are cached.").String()

	build_command_validate = build_command.Flag(
		"validate", "Fail the server package when a required tool "+
			"could not be downloaded.").Bool()

	build_command_offline = build_command.Flag(
		"offline", "Never touch the network - use only cached tools.").
		Bool()

	build_command_server_url = build_command.Flag(
		"server_url", "Public URL clients use to fetch tools.").String()

	build_command_archive = build_command.Flag(
		"archive", "Also emit a zip archive of each package.").Bool()
)

func doBuild() error {
	config_obj, err := config.NewLoader().
		WithFileLoader(*config_path).
		WithOverride(applyBuildFlags).
		LoadAndValidate()
	if err != nil {
		return err
	}

	err = logging.InitLogging(config_obj)
	if err != nil {
		return err
	}

	logger := logging.GetLogger(config_obj, &logging.GenericComponent)

	// Ctrl-C cancels in-flight downloads cleanly; interrupted tools
	// stay Pending and are resumed by the next run.
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt)
	defer cancel()

	collection, err := corpus.LoadCorpus(config_obj, config_obj.Source)
	if err != nil {
		return err
	}

	db := inventory.BuildDatabase(config_obj, collection)

	err = fetcher.NewFetcher(config_obj, nil).FetchAll(ctx, db)
	if err != nil {
		return err
	}

	packages, err := packager.NewAssembler(config_obj, collection, db).
		Build(ctx, config_obj.OutputDir)
	if err != nil {
		return err
	}

	report := reporting.Generate(collection, db, packages)

	err = writeReports(config_obj, report)
	if err != nil {
		return err
	}

	logger.Info("Build complete: %v packages written to %v",
		len(packages), config_obj.OutputDir)

	return report.WriteText(os.Stdout)
}

func writeReports(config_obj *config.Config,
	report *reporting.BuildReport) error {

	json_fd, err := os.Create(
		filepath.Join(config_obj.OutputDir, "build_report.json"))
	if err != nil {
		return err
	}
	defer json_fd.Close()

	err = report.WriteJSON(json_fd)
	if err != nil {
		return err
	}

	html_fd, err := os.Create(
		filepath.Join(config_obj.OutputDir, "build_report.html"))
	if err != nil {
		return err
	}
	defer html_fd.Close()

	return report.WriteHTML(html_fd)
}

func applyBuildFlags(config_obj *config.Config) {
	config_obj.Source = *build_command_source
	config_obj.OutputDir = *build_command_output
	config_obj.PackageKind = *build_command_package

	if *build_command_cache != "" {
		config_obj.CacheDir = *build_command_cache
	} else if config_obj.CacheDir == "" {
		config_obj.CacheDir = filepath.Join(
			*build_command_output, "tool_cache")
	}

	if *build_command_concurrency > 0 {
		config_obj.Fetcher.Concurrency = *build_command_concurrency
	}

	if *build_command_validate {
		config_obj.ValidateDownloads = true
	}

	if *build_command_offline {
		config_obj.Fetcher.Offline = true
	}

	if *build_command_server_url != "" {
		config_obj.Frontend.PublicUrl = *build_command_server_url
	}

	if *build_command_archive {
		config_obj.Archive = true
	}

	if config_obj.Logging.OutputDirectory == "" {
		config_obj.Logging.OutputDirectory = *build_command_output
	}
	config_obj.Logging.Verbose = *verbose_flag
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case build_command.FullCommand():
			err := doBuild()
			kingpin.FatalIfError(err, "build")

		default:
			return false
		}
		return true
	})
}
