package transcode

type Config struct {
	OutputPath               string `yaml:"output_dir" env:"TRANSCODE_OUTPUT_DIR"`
	FfmpegBinaryPath         string `yaml:"ffmpeg_binary_path" env:"TRANSCODE_FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinaryPath        string `yaml:"ffprobe_binary_path" env:"TRANSCODE_FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
	MaximumThreadConsumption int    `yaml:"max_thread_consumption" env:"TRANSCODE_MAX_THREADS" env-default:"8"`
}
