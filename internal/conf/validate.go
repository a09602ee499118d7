package conf

// validateSettings clamps out-of-range values to safe defaults instead of
// failing startup outright, mirroring the teacher's permissive validation
// style for optional tunables.
func validateSettings(s *Settings) {
	d := defaultSettings()

	if s.Chunking.DurationSec <= 0 {
		s.Chunking.DurationSec = d.Chunking.DurationSec
	}
	if s.Chunking.OverlapSec < 0 || s.Chunking.OverlapSec >= s.Chunking.DurationSec {
		s.Chunking.OverlapSec = d.Chunking.OverlapSec
	}

	if s.Playback.CrossfadeSec < 0 {
		s.Playback.CrossfadeSec = d.Playback.CrossfadeSec
	}
	if s.Playback.MinTempo <= 0 {
		s.Playback.MinTempo = d.Playback.MinTempo
	}
	if s.Playback.MaxTempo <= s.Playback.MinTempo {
		s.Playback.MaxTempo = d.Playback.MaxTempo
	}
	if s.Playback.DefaultTempo < s.Playback.MinTempo || s.Playback.DefaultTempo > s.Playback.MaxTempo {
		s.Playback.DefaultTempo = d.Playback.DefaultTempo
	}
	if s.Playback.TempoDebounceMS <= 0 {
		s.Playback.TempoDebounceMS = d.Playback.TempoDebounceMS
	}
	if s.Playback.LookaheadIntervalMS <= 0 {
		s.Playback.LookaheadIntervalMS = d.Playback.LookaheadIntervalMS
	}
	if s.Playback.ProactiveThresholdSec <= s.Playback.LookaheadThresholdSec {
		s.Playback.ProactiveThresholdSec = s.Playback.LookaheadThresholdSec + 2.0
	}

	if s.Scheduler.KeepAheadChunks <= 0 {
		s.Scheduler.KeepAheadChunks = d.Scheduler.KeepAheadChunks
	}
	if s.Scheduler.KeepBehindChunks < 0 {
		s.Scheduler.KeepBehindChunks = d.Scheduler.KeepBehindChunks
	}
	if s.Scheduler.MaxChunkRetries <= 0 {
		s.Scheduler.MaxChunkRetries = d.Scheduler.MaxChunkRetries
	}

	if s.Worker.PoolSize < 0 {
		s.Worker.PoolSize = 0
	}
	if s.Worker.MaxCrashes <= 0 {
		s.Worker.MaxCrashes = d.Worker.MaxCrashes
	}
}
