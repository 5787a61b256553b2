// Command train-sgan trains a spiking GAN described by a YAML config.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tsawler/spiking-gan/config"
	"github.com/tsawler/spiking-gan/gan"
	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: train-sgan -config path.yaml")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	device, err := tensor.ParseDevice(cfg.Device)
	if err != nil {
		log.Fatalf("invalid device: %v", err)
	}
	fmt.Printf("Device: %s\n", tensor.DeviceInfo(device))

	trainer := gan.NewTrainer(cfg)
	defer trainer.Close()
	if err := trainer.Prepare(); err != nil {
		trainer.Close()
		log.Fatalf("failed to prepare training: %v", err)
	}

	training.NewModelArchitecturePrinter("Generator").PrintArchitecture(os.Stdout, trainer.Generator())
	training.NewModelArchitecturePrinter("Discriminator").PrintArchitecture(os.Stdout, trainer.Discriminator())

	if _, err := trainer.Run(); err != nil {
		trainer.Close()
		log.Fatalf("training failed: %v", err)
	}
}
