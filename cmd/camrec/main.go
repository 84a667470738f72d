package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abihf/camrec"
	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/config"
)

func main() {
	if len(os.Args) < 2 {
		help()
	}
	switch os.Args[1] {
	case "devices":
		ids, err := capture.ListDevices()
		must(err)
		for _, id := range ids {
			fmt.Println(id)
		}
	case "snap":
		rec := newRecorder(config.Load())
		var (
			path string
			err  error
		)
		if len(os.Args) > 2 {
			path, err = rec.SaveImageTo(context.Background(), os.Args[2])
		} else {
			path, err = rec.SaveOneImage(context.Background())
		}
		must(err)
		fmt.Println(path)
	case "record":
		if len(os.Args) < 3 {
			help()
		}
		d, err := time.ParseDuration(os.Args[2])
		must(err)
		template := ""
		if len(os.Args) > 3 {
			template = os.Args[3]
		}
		must(record(d, template))
	default:
		help()
	}
}

func newRecorder(conf *config.Config) *camrec.Recorder {
	rec, err := camrec.NewFromConfig(conf, nil)
	must(err)
	return rec
}

func record(d time.Duration, template string) error {
	conf := config.Load()
	if template == "" {
		template = conf.PathTemplate
	}
	rec := newRecorder(conf)
	if err := rec.StartRecording(template); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}

	st := rec.Status()
	rec.StopRecording(true)
	fmt.Printf("Captured %d frames (%d failed), avg interval %v\n",
		st.Device.Frames, st.Device.Failures, st.Device.AvgInterval)
	return nil
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func help() {
	log.Fatalf("Usage: %s <devices|snap [path]|record <duration> [path template]>", os.Args[0])
}
