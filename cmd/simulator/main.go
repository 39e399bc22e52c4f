package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/internal/params"
	"github.com/lior-linho/openmed-portfolio/internal/sim/state"
	"github.com/lior-linho/openmed-portfolio/kb"
	"github.com/lior-linho/openmed-portfolio/model"
	"github.com/lior-linho/openmed-portfolio/timectrl"
)

// crossedAt is the progress at which the scripted operator treats the
// lesion as crossed.
const crossedAt = 0.999

// Config drives one headless procedure run.
type Config struct {
	Duration    time.Duration
	Tick        time.Duration
	SampleEvery time.Duration
	Accelerated bool
	Vessel      string
	Wire        string
	Stent       string
	Speed       float64
	Balloon     float64
}

func main() {
	cfg := Config{}
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "total simulated duration")
	flag.DurationVar(&cfg.Tick, "tick", 16*time.Millisecond, "frame tick interval")
	flag.DurationVar(&cfg.SampleEvery, "sample-every", 50*time.Millisecond, "resistance sampling interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flag.StringVar(&cfg.Vessel, "vessel", string(model.VesselStandardBend), "vessel id")
	flag.StringVar(&cfg.Wire, "wire", "", "wire preset id")
	flag.StringVar(&cfg.Stent, "stent", "", "stent preset id")
	flag.Float64Var(&cfg.Speed, "speed", 0, "guidewire advance speed in cm/s (0 keeps the default)")
	flag.Float64Var(&cfg.Balloon, "balloon", 0.6, "balloon inflation used in the dilation steps")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run executes a scripted procedure and writes the final snapshot as JSON.
func run(ctx context.Context, cfg Config, log logging.Logger, out io.Writer) error {
	store := params.NewStore()
	if cfg.Speed > 0 {
		if _, err := store.Set("guidewire.advanceSpeed", cfg.Speed); err != nil {
			return err
		}
	}

	timeline := state.NewTimeline(state.DefaultTimelineLimit)
	s, err := state.NewProcedureState(kb.NewKnowledgeBase(), log,
		state.WithParams(store),
		state.WithTimeline(timeline),
		state.WithVessel(model.VesselID(cfg.Vessel)),
	)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.Close()
	if cfg.Wire != "" {
		if err := s.SetWire(ctx, model.WireID(cfg.Wire)); err != nil {
			return err
		}
	}
	if cfg.Stent != "" {
		if err := s.SetStentPreset(ctx, model.StentID(cfg.Stent)); err != nil {
			return err
		}
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, mode)

	d := &director{s: s, balloon: cfg.Balloon}
	tc.AddListener(func(_ time.Time, dt time.Duration) {
		s.Advance(dt.Seconds())
	})
	tc.AddCadenceListener(cfg.SampleEvery, func(_ time.Time, _ time.Duration) {
		s.SampleResistance(ctx)
		d.observe(ctx)
	})

	log.Info(ctx, "simulation starting",
		logging.Duration("duration", cfg.Duration),
		logging.Duration("tick", cfg.Tick),
		logging.String("vessel", cfg.Vessel),
		logging.Bool("accelerated", cfg.Accelerated),
	)
	s.PressPedal()
	<-tc.Start(ctx, cfg.Duration)
	s.ReleasePedal()

	snap := s.Snapshot()
	log.Info(ctx, "simulation complete",
		logging.String("step", snap.Step),
		logging.Float("progress", snap.Progress),
		logging.Float("dose_index", snap.DoseIndex),
		logging.Int("samples", timeline.Len()),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// director plays the operator: once the wire has crossed it walks the
// workflow one action per sampling interval.
type director struct {
	s       *state.ProcedureState
	balloon float64
	done    bool
}

func (d *director) observe(ctx context.Context) {
	if d.done || d.s.Progress() < crossedAt {
		return
	}
	switch d.s.Step() {
	case model.StepCross:
		d.s.ShootContrast()
		d.s.Next(ctx)
		d.s.SetBalloon(ctx, d.balloon)
	case model.StepPreDilate:
		d.s.SetBalloon(ctx, 0)
		d.s.Next(ctx)
	case model.StepDeploy:
		d.s.StartCine(0)
		d.s.DeployStent(ctx)
		d.s.Next(ctx)
		d.s.SetBalloon(ctx, d.balloon)
	case model.StepPostDilate:
		d.s.SetBalloon(ctx, 0)
		d.done = true
	}
}
