package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/time/rate"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/chaos"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/mdg"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/transport"
)

const defaultUniverse = "index/NSE:NIFTY@22000,index/NSE:BANKNIFTY@47000,equity/NSE:RELIANCE@2900,equity/NSE:INFY@1500,equity/NSE:TCS@3900"

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Comma separated Kafka brokers")
	topic := flag.String("topic", "signal.ticks", "Tick topic")
	universe := flag.String("universe", defaultUniverse, "Instruments as class/KEY@price, comma separated")
	strikes := flag.Int("strikes", 2, "Option strikes per side around each index (0=no options)")
	ticks := flag.Int("ticks", 1000, "Number of ticks to generate (0=until interrupted)")
	tps := flag.Float64("rate", 500, "Ticks per second (0=unlimited)")
	batch := flag.Int("batch", 50, "Ticks per Kafka write")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	volatility := flag.Float64("volatility", 0.0005, "Per tick relative price move")
	orderFlow := flag.Float64("order-flow-rate", 0.01, "Fraction of ticks flagged as order flow")
	premium := flag.Float64("premium-rate", 0, "Fraction of ticks carrying the premium tier")
	dropRate := flag.Float64("drop-rate", 0, "Chaos drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Chaos duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Chaos reorder window (>=1)")
	maxLag := flag.Duration("max-lag", 0, "Chaos max event time backdating")
	flag.Parse()

	if *ticks < 0 {
		log.Fatalf("ticks must be >= 0")
	}
	if *batch <= 0 {
		*batch = 1
	}

	instruments, err := mdg.ParseUniverse(*universe)
	if err != nil {
		log.Fatalf("universe invalid: %v", err)
	}
	instruments = mdg.WithOptions(instruments, mdg.OptionChain{Strikes: *strikes})
	gen, err := mdg.NewGenerator(instruments, mdg.Config{
		Seed:          *seed,
		Volatility:    *volatility,
		OrderFlowRate: *orderFlow,
		PremiumRate:   *premium,
	})
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}
	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxLag:        *maxLag,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	writer, err := transport.NewKafkaTickWriter(transport.KafkaConfig{
		Brokers:   strings.Split(*brokers, ","),
		TickTopic: *topic,
	})
	if err != nil {
		log.Fatalf("kafka writer init failed: %v", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logs.Errorf("close kafka writer failed, err: %+v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	limiter := rate.NewLimiter(rate.Inf, *batch)
	if *tps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*tps), *batch)
	}

	start := time.Now()
	var written int
	pending := make([]model.Tick, 0, *batch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := writer.Write(ctx, pending...); err != nil {
			log.Fatalf("write ticks failed: %v", err)
		}
		written += len(pending)
		pending = pending[:0]
	}

	for i := 0; *ticks == 0 || i < *ticks; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		pending = append(pending, engine.Process(gen.Next(time.Now().UTC()))...)
		if len(pending) >= *batch {
			flush()
		}
	}
	pending = append(pending, engine.Flush()...)
	if ctx.Err() == nil {
		flush()
	}

	st := engine.Stats()
	logs.Infof("tickgen done, instruments: %d, generated: %d, written: %d, dropped: %d, duplicated: %d, elapsed: %s",
		len(instruments), gen.Seq(), written, st.Dropped, st.Duplicated, time.Since(start).Round(time.Millisecond))
}
