package kubernetes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const (
	annotationSnapshot   = "sentinel.io/snapshot-id"
	annotationRestoredAt = "sentinel.io/restored-at"
	annotationCommit     = "sentinel.io/git-commit"
)

// RestorerConfig tunes a Restorer.
type RestorerConfig struct {
	// RolloutTimeout bounds the wait for the patched deployment to become
	// available. Zero skips the wait.
	RolloutTimeout time.Duration
	PollInterval   time.Duration
	// RestoreJobImage, when set, runs a Job that restores the snapshot's
	// database backup and config bundle next to the image rollback.
	RestoreJobImage string
}

// Restorer implements outbound.SnapshotRestorer by rolling a deployment back to
// the image built from the snapshot's commit.
type Restorer struct {
	clientset kubernetes.Interface
	targets   *Targets
	cfg       RestorerConfig
	logger    *slog.Logger
}

var _ outbound.SnapshotRestorer = (*Restorer)(nil)

// NewRestorer creates a Restorer.
func NewRestorer(clientset kubernetes.Interface, targets *Targets, cfg RestorerConfig, logger *slog.Logger) *Restorer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{clientset: clientset, targets: targets, cfg: cfg, logger: logger}
}

// Restore patches the target deployment and waits for the rollout. API errors
// are returned; a rollout that never becomes available is reported as
// Success=false with the collected logs.
func (r *Restorer) Restore(ctx context.Context, req outbound.RestoreRequest) (outbound.RestoreResult, error) {
	tgt, ok := r.targets.For(req.Environment)
	if !ok {
		return outbound.RestoreResult{}, fmt.Errorf("no kubernetes target configured for %s", req.Environment)
	}
	if req.GitCommit == "" {
		return outbound.RestoreResult{}, errors.New("snapshot has no git commit to restore")
	}

	var logs []string
	image := tgt.ImageRef(req.GitCommit)
	if err := r.patchImage(ctx, tgt, image, req); err != nil {
		return outbound.RestoreResult{}, err
	}
	logs = append(logs, fmt.Sprintf("patched deployment %s/%s to %s", tgt.Namespace, tgt.Deployment, image))
	r.logger.Info("deployment patched for rollback",
		"namespace", tgt.Namespace, "deployment", tgt.Deployment, "image", image, "snapshot_id", req.SnapshotID)

	if r.cfg.RestoreJobImage != "" && (req.DatabaseBackup != "" || req.ConfigFiles != "") {
		job, err := r.createRestoreJob(ctx, tgt, req)
		if err != nil {
			return outbound.RestoreResult{}, err
		}
		logs = append(logs, "created restore job "+job)
	}

	if r.cfg.RolloutTimeout <= 0 {
		return outbound.RestoreResult{Success: true, Logs: strings.Join(logs, "\n")}, nil
	}
	status, err := r.waitForRollout(ctx, tgt)
	logs = append(logs, status)
	if err != nil {
		if ctx.Err() != nil {
			return outbound.RestoreResult{}, ctx.Err()
		}
		logs = append(logs, err.Error())
		return outbound.RestoreResult{Success: false, Logs: strings.Join(logs, "\n")}, nil
	}
	return outbound.RestoreResult{Success: true, Logs: strings.Join(logs, "\n")}, nil
}

func (r *Restorer) patchImage(ctx context.Context, tgt Target, image string, req outbound.RestoreRequest) error {
	container := tgt.Container
	if container == "" {
		container = tgt.Deployment
	}
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{
				annotationSnapshot: req.SnapshotID,
				annotationCommit:   req.GitCommit,
			},
		},
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						annotationRestoredAt: time.Now().UTC().Format(time.RFC3339),
					},
				},
				"spec": map[string]any{
					"containers": []map[string]string{{"name": container, "image": image}},
				},
			},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshalling rollback patch: %w", err)
	}
	_, err = r.clientset.AppsV1().Deployments(tgt.Namespace).Patch(
		ctx, tgt.Deployment, types.StrategicMergePatchType, data, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("patching deployment %s/%s for rollback: %w", tgt.Namespace, tgt.Deployment, err)
	}
	return nil
}

func (r *Restorer) createRestoreJob(ctx context.Context, tgt Target, req outbound.RestoreRequest) (string, error) {
	short := req.SnapshotID
	if len(short) > 8 {
		short = short[:8]
	}
	backoff := int32(0)
	ttl := int32(24 * 3600)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        fmt.Sprintf("sentinel-restore-%s-%d", strings.ToLower(short), time.Now().Unix()),
			Namespace:   tgt.Namespace,
			Labels:      map[string]string{"app.kubernetes.io/managed-by": "sentinel"},
			Annotations: map[string]string{annotationSnapshot: req.SnapshotID},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  "restore",
						Image: r.cfg.RestoreJobImage,
						Env: []corev1.EnvVar{
							{Name: "SNAPSHOT_ID", Value: req.SnapshotID},
							{Name: "ENVIRONMENT", Value: string(req.Environment)},
							{Name: "DATABASE_BACKUP", Value: req.DatabaseBackup},
							{Name: "CONFIG_FILES", Value: req.ConfigFiles},
						},
					}},
				},
			},
		},
	}
	created, err := r.clientset.BatchV1().Jobs(tgt.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("creating restore job in %s: %w", tgt.Namespace, err)
	}
	return created.Name, nil
}

// waitForRollout polls the deployment until every replica runs the new
// template or the rollout timeout passes.
func (r *Restorer) waitForRollout(ctx context.Context, tgt Target) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, r.cfg.RolloutTimeout)
	defer cancel()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var last string
	for {
		d, err := r.clientset.AppsV1().Deployments(tgt.Namespace).Get(wctx, tgt.Deployment, metav1.GetOptions{})
		if err == nil {
			var done bool
			last, done = rolloutStatus(d)
			if done {
				return last, nil
			}
		} else {
			last = fmt.Sprintf("reading deployment: %v", err)
		}
		select {
		case <-wctx.Done():
			return last, fmt.Errorf("rollout of %s/%s did not complete within %s", tgt.Namespace, tgt.Deployment, r.cfg.RolloutTimeout)
		case <-ticker.C:
		}
	}
}

func rolloutStatus(d *appsv1.Deployment) (string, bool) {
	want := int32(1)
	if d.Spec.Replicas != nil {
		want = *d.Spec.Replicas
	}
	s := d.Status
	msg := fmt.Sprintf("rollout %s/%s: %d/%d updated, %d available",
		d.Namespace, d.Name, s.UpdatedReplicas, want, s.AvailableReplicas)
	if s.ObservedGeneration < d.Generation {
		return msg + " (waiting for controller)", false
	}
	return msg, s.UpdatedReplicas >= want && s.AvailableReplicas >= want && s.Replicas == s.UpdatedReplicas
}

// HealthCheck verifies connectivity to the API server via ServerVersion.
func (r *Restorer) HealthCheck(_ context.Context) error {
	if _, err := r.clientset.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("k8s health check failed: %w", err)
	}
	return nil
}
