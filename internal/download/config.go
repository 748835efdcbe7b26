package download

// Config contains configuration options that control how
// media downloads are performed.
type Config struct {
	// The path to the directory that downloaded files are written to.
	// Created at startup if missing.
	OutputPath string

	// The maximum video height (in pixels) that the download engine
	// will select a format for. Formats above this height are ignored.
	MaxHeight int

	// Controls the number of workers that can perform downloads. Reducing
	// to 1 means one download at a time.
	// Caution should be taken to not increase this value too high, as each
	// download consumes significant bandwidth and disk throughput.
	DownloadParallelism int
}
