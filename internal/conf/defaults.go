package conf

import "github.com/spf13/viper"

func defaultSettings() *Settings {
	s := &Settings{}
	s.Log.Enabled = true
	s.Log.Path = "logs/stretchplay.log"
	s.Log.Rotation = RotationSize
	s.Log.MaxSizeMB = 100

	s.Chunking.DurationSec = 8.0
	s.Chunking.OverlapSec = 0.25

	s.Playback.CrossfadeSec = 0.1
	s.Playback.DefaultTempo = 1.0
	s.Playback.MinTempo = 0.25
	s.Playback.MaxTempo = 3.0
	s.Playback.TempoDebounceMS = 100
	s.Playback.LookaheadIntervalMS = 200
	s.Playback.LookaheadThresholdSec = 3.0
	s.Playback.ProactiveThresholdSec = 5.0
	s.Playback.ResumeBufferSec = 10.0

	s.Scheduler.KeepAheadChunks = 5
	s.Scheduler.KeepBehindChunks = 3
	s.Scheduler.CancelDistanceChunks = 2
	s.Scheduler.MaxChunkRetries = 3

	s.Worker.PoolSize = 0
	s.Worker.MaxCrashes = 2

	s.Server.Enabled = false
	s.Server.Listen = "127.0.0.1:8080"
	return s
}

// setDefaultConfig registers every default onto the global viper instance so
// that an absent stretchplay.yaml still produces a fully populated Settings.
func setDefaultConfig() {
	d := defaultSettings()

	viper.SetDefault("debug", d.Debug)

	viper.SetDefault("log.enabled", d.Log.Enabled)
	viper.SetDefault("log.path", d.Log.Path)
	viper.SetDefault("log.rotation", string(d.Log.Rotation))
	viper.SetDefault("log.maxsizemb", d.Log.MaxSizeMB)

	viper.SetDefault("chunking.durationsec", d.Chunking.DurationSec)
	viper.SetDefault("chunking.overlapsec", d.Chunking.OverlapSec)

	viper.SetDefault("playback.crossfadesec", d.Playback.CrossfadeSec)
	viper.SetDefault("playback.defaulttempo", d.Playback.DefaultTempo)
	viper.SetDefault("playback.mintempo", d.Playback.MinTempo)
	viper.SetDefault("playback.maxtempo", d.Playback.MaxTempo)
	viper.SetDefault("playback.tempodebouncems", d.Playback.TempoDebounceMS)
	viper.SetDefault("playback.lookaheadintervalms", d.Playback.LookaheadIntervalMS)
	viper.SetDefault("playback.lookaheadthresholdsec", d.Playback.LookaheadThresholdSec)
	viper.SetDefault("playback.proactivethresholdsec", d.Playback.ProactiveThresholdSec)
	viper.SetDefault("playback.resumebuffersec", d.Playback.ResumeBufferSec)

	viper.SetDefault("scheduler.keepaheadchunks", d.Scheduler.KeepAheadChunks)
	viper.SetDefault("scheduler.keepbehindchunks", d.Scheduler.KeepBehindChunks)
	viper.SetDefault("scheduler.canceldistancechunks", d.Scheduler.CancelDistanceChunks)
	viper.SetDefault("scheduler.maxchunkretries", d.Scheduler.MaxChunkRetries)

	viper.SetDefault("worker.poolsize", d.Worker.PoolSize)
	viper.SetDefault("worker.maxcrashes", d.Worker.MaxCrashes)

	viper.SetDefault("server.enabled", d.Server.Enabled)
	viper.SetDefault("server.listen", d.Server.Listen)
}
