package kubernetes

import (
	"fmt"

	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientConfig selects how the restore adapter reaches the API server.
type ClientConfig struct {
	InCluster  bool
	Kubeconfig string
	UserAgent  string
	// QPS and Burst override client-go's defaults when positive.
	QPS   float32
	Burst int
}

// NewClientset creates a clientset from in-cluster config or a kubeconfig file.
func NewClientset(cfg ClientConfig) (k8s.Interface, error) {
	var restCfg *rest.Config
	var err error

	if cfg.InCluster {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("building k8s config: %w", err)
	}

	if cfg.UserAgent != "" {
		restCfg.UserAgent = cfg.UserAgent
	}
	if cfg.QPS > 0 {
		restCfg.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restCfg.Burst = cfg.Burst
	}

	cs, err := k8s.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating k8s clientset: %w", err)
	}
	return cs, nil
}
