package training

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the epoch; SchedulerStepper owns the
// position and pushes the result into an optimizer.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
//
//	lr(e) = EtaMin + (baseLR - EtaMin) * (1 + cos(pi * e / TMax)) / 2
//
// Past TMax the curve keeps following the cosine and climbs back to baseLR
// at 2*TMax.
type CosineAnnealingLRScheduler struct {
	TMax   int     // Half period in epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 20
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// SchedulerStepper binds a scheduler to one optimizer and advances it once
// per epoch.
type SchedulerStepper struct {
	scheduler LRScheduler
	optimizer Optimizer
	baseLR    float64
	epoch     int
}

// NewSchedulerStepper starts the schedule at startEpoch and sets the
// optimizer's learning rate accordingly.
func NewSchedulerStepper(scheduler LRScheduler, optimizer Optimizer, baseLR float64, startEpoch int) *SchedulerStepper {
	s := &SchedulerStepper{
		scheduler: scheduler,
		optimizer: optimizer,
		baseLR:    baseLR,
		epoch:     startEpoch,
	}
	optimizer.SetLR(scheduler.GetLR(startEpoch, 0, baseLR))
	return s
}

// Step advances one epoch and returns the new learning rate.
func (s *SchedulerStepper) Step() float64 {
	s.epoch++
	lr := s.scheduler.GetLR(s.epoch, 0, s.baseLR)
	s.optimizer.SetLR(lr)
	return lr
}

func (s *SchedulerStepper) Epoch() int {
	return s.epoch
}

func (s *SchedulerStepper) Name() string {
	return s.scheduler.GetName()
}
