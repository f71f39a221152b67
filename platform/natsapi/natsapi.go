// Package natsapi implements the downstream collaborator interfaces over
// NATS request/reply. The device-management platform (or an adapter in front
// of it) answers on mapgate.platform.* subjects with JSON payloads.
package natsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/mapgate/config"
	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/mapping"
	"github.com/c360/mapgate/platform"
)

// SubjectPrefix roots every platform request subject.
const SubjectPrefix = "mapgate.platform"

const defaultRequestTimeout = 10 * time.Second

// Client answers the platform collaborator interfaces over NATS. It
// implements platform.IdentityAPI, platform.InventoryAPI,
// platform.NotificationSubscriber and platform.ConfigStore.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// New creates a platform client on an established connection.
func New(conn *nats.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		logger: logger.With("component", "platform-client"),
	}
}

// envelope is the shared response wrapper: a non-empty error aborts the
// call, found distinguishes a miss from a hit on lookup operations.
type envelope struct {
	Error string          `json:"error,omitempty"`
	Found bool            `json:"found,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (c *Client) request(ctx context.Context, subject string, payload any) (*envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "PlatformClient", "request", "marshal "+subject)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "PlatformClient", "request", subject)
	}

	var resp envelope
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed,
			"PlatformClient", "request", "malformed reply on "+subject)
	}
	if resp.Error != "" {
		return nil, errors.WrapTransient(errors.ErrInvalidData,
			"PlatformClient", "request", subject+": "+resp.Error)
	}
	return &resp, nil
}

func decode[T any](resp *envelope, subject string) (T, error) {
	var value T
	if len(resp.Data) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(resp.Data, &value); err != nil {
		return value, errors.WrapInvalid(errors.ErrParsingFailed,
			"PlatformClient", "decode", "malformed payload on "+subject)
	}
	return value, nil
}

// ResolveExternalID implements platform.IdentityAPI.
func (c *Client) ResolveExternalID(ctx context.Context, tenant string,
	identity platform.DeviceIdentity) (platform.Lookup[platform.DeviceRef], error) {
	subject := SubjectPrefix + ".identity.resolve"
	resp, err := c.request(ctx, subject, struct {
		Tenant   string                  `json:"tenant"`
		Identity platform.DeviceIdentity `json:"identity"`
	}{tenant, identity})
	if err != nil {
		return platform.NotFound[platform.DeviceRef](), err
	}
	if !resp.Found {
		return platform.NotFound[platform.DeviceRef](), nil
	}
	ref, err := decode[platform.DeviceRef](resp, subject)
	if err != nil {
		return platform.NotFound[platform.DeviceRef](), err
	}
	return platform.Found(ref), nil
}

// GetManagedObject implements platform.InventoryAPI.
func (c *Client) GetManagedObject(ctx context.Context, tenant, deviceID string) (
	platform.Lookup[platform.ManagedObject], error) {
	subject := SubjectPrefix + ".inventory.get"
	resp, err := c.request(ctx, subject, struct {
		Tenant   string `json:"tenant"`
		DeviceID string `json:"deviceId"`
	}{tenant, deviceID})
	if err != nil {
		return platform.NotFound[platform.ManagedObject](), err
	}
	if !resp.Found {
		return platform.NotFound[platform.ManagedObject](), nil
	}
	object, err := decode[platform.ManagedObject](resp, subject)
	if err != nil {
		return platform.NotFound[platform.ManagedObject](), err
	}
	return platform.Found(object), nil
}

type deviceRequest struct {
	Tenant   string `json:"tenant"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Subscribe implements platform.NotificationSubscriber.
func (c *Client) Subscribe(ctx context.Context, tenant, deviceID string) error {
	_, err := c.request(ctx, SubjectPrefix+".notification.subscribe",
		deviceRequest{tenant, deviceID})
	return err
}

// Unsubscribe implements platform.NotificationSubscriber.
func (c *Client) Unsubscribe(ctx context.Context, tenant, deviceID string) error {
	_, err := c.request(ctx, SubjectPrefix+".notification.unsubscribe",
		deviceRequest{tenant, deviceID})
	return err
}

// Disconnect implements platform.NotificationSubscriber.
func (c *Client) Disconnect(ctx context.Context, tenant string) error {
	_, err := c.request(ctx, SubjectPrefix+".notification.disconnect",
		deviceRequest{Tenant: tenant})
	return err
}

// LoadMappings implements platform.ConfigStore.
func (c *Client) LoadMappings(ctx context.Context, tenant string,
	direction mapping.Direction) ([]*mapping.Mapping, error) {
	subject := SubjectPrefix + ".config.mappings.load"
	resp, err := c.request(ctx, subject, struct {
		Tenant    string            `json:"tenant"`
		Direction mapping.Direction `json:"direction"`
	}{tenant, direction})
	if err != nil {
		return nil, err
	}
	return decode[[]*mapping.Mapping](resp, subject)
}

// SaveMapping implements platform.ConfigStore.
func (c *Client) SaveMapping(ctx context.Context, tenant string, m *mapping.Mapping) error {
	_, err := c.request(ctx, SubjectPrefix+".config.mappings.save", struct {
		Tenant  string           `json:"tenant"`
		Mapping *mapping.Mapping `json:"mapping"`
	}{tenant, m})
	return err
}

// DeleteMapping implements platform.ConfigStore.
func (c *Client) DeleteMapping(ctx context.Context, tenant, id string) error {
	_, err := c.request(ctx, SubjectPrefix+".config.mappings.delete", struct {
		Tenant string `json:"tenant"`
		ID     string `json:"id"`
	}{tenant, id})
	return err
}

// LoadServiceConfiguration implements platform.ConfigStore.
func (c *Client) LoadServiceConfiguration(ctx context.Context, tenant string) (
	platform.Lookup[config.ServiceConfiguration], error) {
	subject := SubjectPrefix + ".config.service.load"
	resp, err := c.request(ctx, subject, deviceRequest{Tenant: tenant})
	if err != nil {
		return platform.NotFound[config.ServiceConfiguration](), err
	}
	if !resp.Found {
		return platform.NotFound[config.ServiceConfiguration](), nil
	}
	cfg, err := decode[config.ServiceConfiguration](resp, subject)
	if err != nil {
		return platform.NotFound[config.ServiceConfiguration](), err
	}
	return platform.Found(cfg), nil
}

// SaveServiceConfiguration implements platform.ConfigStore.
func (c *Client) SaveServiceConfiguration(ctx context.Context, tenant string,
	cfg config.ServiceConfiguration) error {
	_, err := c.request(ctx, SubjectPrefix+".config.service.save", struct {
		Tenant        string                      `json:"tenant"`
		Configuration config.ServiceConfiguration `json:"configuration"`
	}{tenant, cfg})
	return err
}

// DeleteServiceConfiguration implements platform.ConfigStore.
func (c *Client) DeleteServiceConfiguration(ctx context.Context, tenant string) error {
	_, err := c.request(ctx, SubjectPrefix+".config.service.delete",
		deviceRequest{Tenant: tenant})
	return err
}

// LoadDeploymentMap implements platform.ConfigStore.
func (c *Client) LoadDeploymentMap(ctx context.Context, tenant string) (map[string][]string, error) {
	subject := SubjectPrefix + ".config.deployment.load"
	resp, err := c.request(ctx, subject, deviceRequest{Tenant: tenant})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return decode[map[string][]string](resp, subject)
}

// SaveDeploymentMap implements platform.ConfigStore.
func (c *Client) SaveDeploymentMap(ctx context.Context, tenant string,
	deployments map[string][]string) error {
	_, err := c.request(ctx, SubjectPrefix+".config.deployment.save", struct {
		Tenant      string              `json:"tenant"`
		Deployments map[string][]string `json:"deployments"`
	}{tenant, deployments})
	return err
}
