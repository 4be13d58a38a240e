package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// Client publishes outbox events and hands out subscribers for the alert worker.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// NewClient creates a Pub/Sub v2 client and checks the configured topics exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topicNames(cfg)), "pubsub client initialized")
	}
	return c, nil
}

// clientOptions points the client at an explicit endpoint (the emulator in
// local runs) or a credentials file. With neither set the library falls back
// to PUBSUB_EMULATOR_HOST and application default credentials.
func clientOptions(gcp config.GCPConfig, cfg config.PubSubConfig) []option.ClientOption {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		return append(opts,
			option.WithEndpoint(endpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if file := strings.TrimSpace(gcp.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return opts
}

// topicNames lists the distinct configured topics.
func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.InventoryTopic, cfg.RequestsTopic} {
		name = strings.TrimSpace(name)
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// resource expands a short id into a full resource name. Full names pass
// through untouched; blank ids give "".
func (c *Client) resource(kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + string(kind) + "/" + name
}

func (c *Client) exists(ctx context.Context, kind resourceKind, name string) error {
	full := c.resource(kind, name)
	if full == "" {
		return fmt.Errorf("%s %q not configured", kind, name)
	}
	var err error
	switch kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// EnsureSubscription fails unless the named subscription exists.
func (c *Client) EnsureSubscription(ctx context.Context, name string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.exists(ctx, kindSubscription, name)
}

// Subscription returns a subscriber for a subscription id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	full := c.resource(kindSubscription, name)
	if full == "" || c.client == nil {
		return nil
	}
	return c.client.Subscriber(full)
}

// AlertsSubscription returns the subscriber feeding operator notifications.
func (c *Client) AlertsSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.AlertsSubscription)
}

// Publisher returns a publisher for a topic id or full resource name. The
// caller owns it and must Stop it.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	full := c.resource(kindTopic, name)
	if full == "" || c.client == nil {
		return nil
	}
	return c.client.Publisher(full)
}

// Ping checks every configured topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	names := topicNames(c.cfg)
	if len(names) == 0 {
		return errNoTopics
	}
	for _, name := range names {
		if err := c.exists(ctx, kindTopic, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
