package collector

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nightscout-easyview/internal/model"
	"nightscout-easyview/internal/stream"
)

const (
	outcomeOK           = "ok"
	outcomeEmpty        = "empty"
	outcomeAuthFailed   = "auth_failed"
	outcomeFetchFailed  = "fetch_failed"
	outcomeUploadFailed = "upload_failed"
)

type Policy struct {
	Interval        time.Duration
	AuthBackoff     time.Duration
	ReloginAttempts int
	Backfill        bool
	BackfillWindow  time.Duration
}

// CycleState is everything that survives from one poll cycle to the next.
// It lives only in memory; a restart begins with an empty state.
type CycleState struct {
	Session *model.Session
	// Last is the newest reading that no longer needs uploading.
	Last *model.Reading
	// ResumeFrom is the newest entry Nightscout held at startup.
	ResumeFrom time.Time
}

type Scheduler struct {
	logger   *slog.Logger
	vendor   Vendor
	sink     Uploader
	recorder Recorder
	policy   Policy
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
	state    atomic.Value
}

func NewScheduler(logger *slog.Logger, vendor Vendor, sink Uploader, recorder Recorder, policy Policy) *Scheduler {
	if policy.Interval <= 0 {
		policy.Interval = 30 * time.Second
	}
	if policy.AuthBackoff <= 0 {
		policy.AuthBackoff = 10 * policy.Interval
	}
	if policy.ReloginAttempts > 1 {
		policy.ReloginAttempts = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	s := &Scheduler{
		logger:   logger,
		vendor:   vendor,
		sink:     sink,
		recorder: recorder,
		policy:   policy,
		now:      time.Now,
		sleep:    sleepWithContext,
	}
	s.state.Store(model.StateIdle)
	return s
}

func (s *Scheduler) State() model.State {
	return s.state.Load().(model.State)
}

// Run polls until ctx is cancelled. A cycle that is already running is
// finished before Run returns; its HTTP calls are bounded by client timeouts.
func (s *Scheduler) Run(ctx context.Context) error {
	st := &CycleState{}
	s.resume(ctx, st)

	for {
		if ctx.Err() != nil {
			s.setState(model.StateStopped)
			return nil
		}
		wait := s.RunCycle(ctx, st)

		s.setState(model.StateSleeping)
		if !s.sleep(ctx, wait) {
			s.setState(model.StateStopped)
			return nil
		}
		s.setState(model.StateIdle)
	}
}

func (s *Scheduler) resume(ctx context.Context, st *CycleState) {
	if !s.policy.Backfill {
		return
	}
	ts, ok, err := s.sink.LastEntryTime(context.WithoutCancel(ctx))
	if err != nil {
		s.recorder.ObserveError(err)
		s.logger.Warn("could not read last nightscout entry, backfilling full window", "error", err)
		return
	}
	if ok {
		st.ResumeFrom = ts
		s.logger.Info("resuming after last nightscout entry", "last_entry", ts)
	}
}

// RunCycle performs one authenticate-fetch-transform-upload pass and
// returns how long to sleep before the next one.
func (s *Scheduler) RunCycle(ctx context.Context, st *CycleState) time.Duration {
	log := s.logger.With("cycle_id", uuid.NewString())
	callCtx := context.WithoutCancel(ctx)

	if !st.Session.Valid(s.now()) {
		if wait, ok := s.authenticate(callCtx, log, st); !ok {
			return wait
		}
	}

	readings, wait, ok := s.fetch(callCtx, log, st)
	if !ok {
		return wait
	}

	var newest *model.Reading
	if len(readings) > 0 {
		latest := readings[len(readings)-1]
		newest = &latest
		s.recorder.MarkReading(latest.Timestamp)
		if st.Last != nil && latest.Timestamp.Before(st.Last.Timestamp) {
			log.Warn("reading is older than the previous one", "timestamp", latest.Timestamp, "previous", st.Last.Timestamp)
		}
		readings = append(s.backfill(callCtx, log, st, latest), readings...)
	}
	readings = s.dropWarmingUp(log, readings)

	s.setState(model.StateTransforming)
	entries, err := stream.ToEntries(readings)
	if err != nil {
		s.recorder.ObserveError(err)
		s.recorder.ObserveSkipped("mapping", len(readings)-len(entries))
		log.Warn("skipped unmappable readings", "skipped", len(readings)-len(entries), "error", err)
	}

	if len(entries) == 0 {
		log.Debug("nothing to upload this cycle")
		s.advance(st, newest)
		s.recorder.ObserveCycle(outcomeEmpty)
		return s.policy.Interval
	}

	s.setState(model.StateUploading)
	start := s.now()
	res, err := s.sink.Upload(callCtx, entries)
	if err != nil {
		s.recorder.ObserveError(err)
		s.recorder.ObserveCycle(outcomeUploadFailed)
		switch {
		case errors.Is(err, model.ErrAuth):
			log.Error("nightscout rejected the api secret", "error", err)
		case errors.Is(err, model.ErrServer):
			log.Error("nightscout rejected the upload", "count", len(entries), "error", err)
		default:
			log.Warn("upload failed", "count", len(entries), "error", err)
		}
		return s.policy.Interval
	}
	s.recorder.ObserveUpload(res.Accepted, s.now().Sub(start))
	s.advance(st, newest)
	s.recorder.ObserveCycle(outcomeOK)
	log.Info("uploaded entries to nightscout", "count", res.Accepted, "latest", entries[len(entries)-1].DateString)
	return s.policy.Interval
}

func (s *Scheduler) authenticate(ctx context.Context, log *slog.Logger, st *CycleState) (time.Duration, bool) {
	s.setState(model.StateAuthenticating)
	st.Session = nil
	sess, err := s.vendor.Login(ctx)
	if err != nil {
		s.recorder.ObserveError(err)
		s.recorder.ObserveCycle(outcomeAuthFailed)
		if errors.Is(err, model.ErrAuth) {
			log.Error("easyview login rejected, backing off", "backoff", s.policy.AuthBackoff, "error", err)
			return s.policy.AuthBackoff, false
		}
		log.Warn("easyview login failed", "error", err)
		return s.policy.Interval, false
	}
	s.recorder.ObserveLogin()
	st.Session = &sess
	return 0, true
}

// fetch re-authenticates at most ReloginAttempts times when the vendor
// reports the session as expired.
func (s *Scheduler) fetch(ctx context.Context, log *slog.Logger, st *CycleState) ([]model.Reading, time.Duration, bool) {
	s.setState(model.StateFetching)
	readings, err := s.vendor.FetchLatest(ctx, *st.Session)
	for relogins := 0; errors.Is(err, model.ErrSessionExpired) && relogins < s.policy.ReloginAttempts; relogins++ {
		log.Info("easyview session expired, logging in again")
		if wait, ok := s.authenticate(ctx, log, st); !ok {
			return nil, wait, false
		}
		s.setState(model.StateFetching)
		readings, err = s.vendor.FetchLatest(ctx, *st.Session)
	}
	if err == nil {
		return readings, 0, true
	}

	s.recorder.ObserveError(err)
	switch {
	case errors.Is(err, model.ErrParse):
		log.Warn("could not decode easyview readings, skipping them", "error", err)
		return nil, 0, true
	case errors.Is(err, model.ErrSessionExpired):
		st.Session = nil
		log.Warn("easyview session still rejected after re-login", "error", err)
	default:
		log.Warn("easyview fetch failed", "error", err)
	}
	s.recorder.ObserveCycle(outcomeFetchFailed)
	return nil, s.policy.Interval, false
}

// backfill returns readings the vendor recorded between the last handled
// reading (or the Nightscout resume point) and latest.
func (s *Scheduler) backfill(ctx context.Context, log *slog.Logger, st *CycleState, latest model.Reading) []model.Reading {
	if !s.policy.Backfill || st.Session == nil {
		return nil
	}

	var from time.Time
	var after *model.ReadingKey
	switch {
	case st.Last != nil:
		if latest.Key() == st.Last.Key() || latest.Follows(*st.Last) || !st.Last.Key().Less(latest.Key()) {
			return nil
		}
		from = st.Last.Timestamp
		k := st.Last.Key()
		after = &k
	case !st.ResumeFrom.IsZero():
		from = st.ResumeFrom
	default:
		from = latest.Timestamp.Add(-s.policy.BackfillWindow)
	}
	if floor := latest.Timestamp.Add(-s.policy.BackfillWindow); from.Before(floor) {
		from = floor
	}
	st.ResumeFrom = time.Time{}
	if !from.Before(latest.Timestamp) {
		return nil
	}

	history, err := s.vendor.FetchHistory(ctx, *st.Session, latest.Owner, latest.Device, from, latest.Timestamp)
	if err != nil {
		s.recorder.ObserveError(err)
		log.Warn("easyview history fetch failed, uploading latest only", "from", from, "to", latest.Timestamp, "error", err)
		return nil
	}

	out := history[:0]
	for _, r := range history {
		if !r.Key().Less(latest.Key()) || !r.Timestamp.After(from) {
			continue
		}
		if after != nil && !after.Less(r.Key()) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	if len(out) > 0 {
		log.Info("backfilling missed readings", "count", len(out), "from", from, "to", latest.Timestamp)
	}
	return out
}

func (s *Scheduler) dropWarmingUp(log *slog.Logger, readings []model.Reading) []model.Reading {
	out := readings[:0]
	for _, r := range readings {
		if r.Status == model.SensorStatusWarmingUp {
			continue
		}
		out = append(out, r)
	}
	if skipped := len(readings) - len(out); skipped > 0 {
		s.recorder.ObserveSkipped("warming_up", skipped)
		log.Debug("skipped readings from a warming up sensor", "count", skipped)
	}
	return out
}

func (s *Scheduler) advance(st *CycleState, newest *model.Reading) {
	if newest != nil {
		st.Last = newest
	}
}

func (s *Scheduler) setState(next model.State) {
	prev := s.State()
	if prev == next {
		return
	}
	s.state.Store(next)
	s.recorder.SetState(next)
	s.logger.Debug("poll state", "from", prev, "to", next)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
