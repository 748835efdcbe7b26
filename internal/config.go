package internal

import (
	"fmt"
	"path/filepath"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/cleanup"
	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/fetcharr/fetcharr/internal/transcode"
	"github.com/ilyakaznacheev/cleanenv"
)

// FetcharrConfig is the struct used to contain the various user
// config supplied by file, or manually inside the code.
type FetcharrConfig struct {
	// DownloadDirPath is the directory completed media files live in until
	// their retention period lapses. Raw downloads are staged in an
	// 'incoming' subdirectory while they await transcoding.
	DownloadDirPath string `yaml:"download_dir" env:"DOWNLOAD_DIR" env-default:"./downloads"`

	MaxVideoHeight      int `yaml:"max_video_height" env:"DOWNLOAD_MAX_HEIGHT" env-default:"720"`
	DownloadParallelism int `yaml:"download_parallelism" env:"DOWNLOAD_PARALLELISM" env-default:"2"`

	Transcode  transcode.Config        `yaml:"transcoder"`
	Cleanup    cleanup.Config          `yaml:"cleanup"`
	Services   ServiceConfig           `yaml:"docker_services"`
	Database   database.DatabaseConfig `yaml:"database"`
	RestConfig api.RestConfig          `yaml:"api"`
}

// ServiceConfig is used to enable/disable the internal initialisation of
// supporting services for fetcharr. By default, these will be enabled so
// that fetcharr will initialise them automatically.
type ServiceConfig struct {
	EnablePostgres bool `yaml:"enable_postgres" env:"SERVICE_ENABLE_POSTGRES" env-default:"true"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// FetcharrConfig struct ready to be passed to the fetcharr entry point.
// A missing file is not an error; the environment alone is enough to
// configure the service.
func (config *FetcharrConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %v", err.Error())
	}

	return nil
}

func (config *FetcharrConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %v", err.Error())
	}

	return nil
}

// IncomingDirPath is where the download engine writes raw files. The
// transcode service consumes from here and removes the raw file once
// the final artifact is produced.
func (config *FetcharrConfig) IncomingDirPath() string {
	return filepath.Join(config.DownloadDirPath, "incoming")
}
