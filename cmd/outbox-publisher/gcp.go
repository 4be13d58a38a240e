package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

func (s *Service) openGCPPublisher(topic string) topicPublisher {
	p := s.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{g.p.Publish(ctx, msg)}
}

func (g gcpPublisher) Stop() {
	g.p.Stop()
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
