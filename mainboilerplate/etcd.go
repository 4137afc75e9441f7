package mainboilerplate

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures the application Etcd session.
type EtcdConfig struct {
	Address     string        `long:"address" env:"ADDRESS" default:"http://localhost:2379" description:"Etcd service address endpoint"`
	DialTimeout time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" default:"10s" description:"Timeout of the initial Etcd connection"`
}

// MustDial builds an Etcd client connection. A blocking trial connection
// verifies reachability, so mis-configuration fails fast at startup.
func (c *EtcdConfig) MustDial() *clientv3.Client {
	var etcd, err = clientv3.New(clientv3.Config{
		Endpoints:   []string{c.Address},
		DialTimeout: c.DialTimeout,
	})
	Must(err, "failed to build Etcd client", "address", c.Address)

	var ctx, cancel = context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()

	_, err = etcd.Status(ctx, c.Address)
	Must(err, "failed to connect to Etcd", "address", c.Address)

	return etcd
}
