package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultOpTimeout   = 3 * time.Second
)

// EtcdConfig configures the etcd-backed store.
type EtcdConfig struct {
	// Endpoints are the etcd cluster endpoints.
	Endpoints []string `yaml:"endpoints"`
	// Prefix is the key namespace, e.g. "/forge".
	Prefix string `yaml:"prefix"`
	// DialTimeout bounds the initial connection.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// OpTimeout bounds each get/put/delete.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type etcdStore struct {
	client    *clientv3.Client
	prefix    string
	opTimeout time.Duration
}

// NewEtcd connects to etcd and returns a durable store. Workloads live
// under <prefix>/workloads/ and nodes under <prefix>/nodes/.
func NewEtcd(cfg EtcdConfig) (Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/forge"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to etcd")
	}

	log.WithFields(log.Fields{
		"endpoints": cfg.Endpoints,
		"prefix":    cfg.Prefix,
	}).Info("etcd store connected")

	return &etcdStore{
		client:    client,
		prefix:    cfg.Prefix,
		opTimeout: cfg.OpTimeout,
	}, nil
}

func (s *etcdStore) workloadKey(id string) string {
	return s.prefix + "/workloads/" + id
}

func (s *etcdStore) nodeKey(id model.NodeID) string {
	return s.prefix + "/nodes/" + id.String()
}

func (s *etcdStore) put(ctx context.Context, key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err = s.client.Put(ctx, key, string(encoded))
	return errors.Wrapf(err, "put %s", key)
}

func (s *etcdStore) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err := s.client.Delete(ctx, key)
	return errors.Wrapf(err, "delete %s", key)
}

func (s *etcdStore) SaveWorkload(ctx context.Context, w *model.Workload) error {
	return s.put(ctx, s.workloadKey(w.ID), w)
}

func (s *etcdStore) DeleteWorkload(ctx context.Context, id string) error {
	return s.delete(ctx, s.workloadKey(id))
}

func (s *etcdStore) ListWorkloads(ctx context.Context) ([]*model.Workload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.prefix+"/workloads/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list workloads")
	}

	out := make([]*model.Workload, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var w model.Workload
		if err := json.Unmarshal(kv.Value, &w); err != nil {
			return nil, errors.Wrapf(err, "decode %s", string(kv.Key))
		}
		out = append(out, &w)
	}
	return out, nil
}

func (s *etcdStore) SaveNode(ctx context.Context, n *model.NodeResources) error {
	return s.put(ctx, s.nodeKey(n.NodeID), n)
}

func (s *etcdStore) DeleteNode(ctx context.Context, id model.NodeID) error {
	return s.delete(ctx, s.nodeKey(id))
}

func (s *etcdStore) ListNodes(ctx context.Context) ([]*model.NodeResources, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.prefix+"/nodes/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list nodes")
	}

	out := make([]*model.NodeResources, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var n model.NodeResources
		if err := json.Unmarshal(kv.Value, &n); err != nil {
			return nil, errors.Wrapf(err, "decode %s", string(kv.Key))
		}
		out = append(out, &n)
	}
	return out, nil
}

func (s *etcdStore) Close() error {
	return s.client.Close()
}
