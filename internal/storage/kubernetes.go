package storage

import (
	"context"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// EligibilityAnnotation marks cluster namespaces that participate in
// collaborative secret management.
const EligibilityAnnotation = "secrets.oleksiyp.dev/native-secrets"

// metadataKey is the ConfigMap data key holding the serialized document.
const metadataKey = "metadata"

// KubernetesBackend stores each namespace's values in a v1.Secret and its
// metadata document in a v1.ConfigMap, both named after the namespace and
// living inside a single hub namespace. Compare-and-swap rides on the
// objects' resourceVersion.
type KubernetesBackend struct {
	client kubernetes.Interface
	hub    string
}

// NewKubernetesBackend creates a backend on an existing clientset.
func NewKubernetesBackend(client kubernetes.Interface, hubNamespace string) *KubernetesBackend {
	return &KubernetesBackend{client: client, hub: hubNamespace}
}

// NewKubernetesClient builds a clientset from the in-cluster environment
// when running inside Kubernetes, otherwise from the local kubeconfig.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		cfg, err = rest.InClusterConfig()
	} else {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			rules.ExplicitPath = kubeconfig
		}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, nil).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

func (k *KubernetesBackend) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := k.client.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, translateAPIError("listing namespaces", err)
	}
	var names []string
	for _, ns := range list.Items {
		if ns.Annotations[EligibilityAnnotation] == "true" {
			names = append(names, ns.Name)
		}
	}
	return names, nil
}

func (k *KubernetesBackend) ReadValues(ctx context.Context, namespace string) (map[string]string, error) {
	secret, err := k.client.CoreV1().Secrets(k.hub).Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return map[string]string{}, nil
		}
		return nil, translateAPIError("reading values", err)
	}
	values := map[string]string{}
	for key, raw := range secret.Data {
		values[key] = string(raw)
	}
	return values, nil
}

func (k *KubernetesBackend) WriteValues(ctx context.Context, namespace string, values map[string]string) error {
	secrets := k.client.CoreV1().Secrets(k.hub)

	if len(values) == 0 {
		err := secrets.Delete(ctx, namespace, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return translateAPIError("deleting value bucket", err)
		}
		return nil
	}

	data := map[string][]byte{}
	for key, v := range values {
		data[key] = []byte(v)
	}

	existing, err := secrets.Get(ctx, namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = secrets.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: namespace},
			Data:       data,
		}, metav1.CreateOptions{})
		return translateAPIError("creating value bucket", err)
	}
	if err != nil {
		return translateAPIError("reading value bucket", err)
	}

	existing.Data = data
	_, err = secrets.Update(ctx, existing, metav1.UpdateOptions{})
	return translateAPIError("writing value bucket", err)
}

func (k *KubernetesBackend) ReadMetadata(ctx context.Context, namespace string) (*models.NamespaceMetadata, string, error) {
	cm, err := k.client.CoreV1().ConfigMaps(k.hub).Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return models.NewNamespaceMetadata(namespace), "", nil
		}
		return nil, "", translateAPIError("reading metadata", err)
	}
	raw, ok := cm.Data[metadataKey]
	if !ok {
		return models.NewNamespaceMetadata(namespace), cm.ResourceVersion, nil
	}
	meta, err := decodeDocument([]byte(raw), namespace)
	if err != nil {
		return nil, "", err
	}
	return meta, cm.ResourceVersion, nil
}

func (k *KubernetesBackend) WriteMetadata(ctx context.Context, namespace string, meta *models.NamespaceMetadata, expectedVersion string) error {
	raw, err := EncodeDocument(meta)
	if err != nil {
		return err
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: namespace, ResourceVersion: expectedVersion},
		Data:       map[string]string{metadataKey: string(raw)},
	}
	configMaps := k.client.CoreV1().ConfigMaps(k.hub)

	if expectedVersion == "" {
		cm.ResourceVersion = ""
		_, err = configMaps.Create(ctx, cm, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			// Someone created the document between our read and write.
			return ErrConflict
		}
		return translateAPIError("creating metadata", err)
	}

	_, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
	if apierrors.IsConflict(err) || apierrors.IsNotFound(err) {
		return ErrConflict
	}
	return translateAPIError("writing metadata", err)
}

// WatchMetadata streams ConfigMap changes in the hub namespace. Deleted
// documents are not forwarded; subscribers learn about removed keys from
// the rewritten document of the surviving namespace object.
func (k *KubernetesBackend) WatchMetadata(ctx context.Context, events chan<- models.MetadataEvent) error {
	w, err := k.client.CoreV1().ConfigMaps(k.hub).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return translateAPIError("starting metadata watch", err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("metadata watch stream closed")
			}
			if ev.Type != watch.Added && ev.Type != watch.Modified {
				continue
			}
			cm, ok := ev.Object.(*corev1.ConfigMap)
			if !ok {
				continue
			}
			raw, ok := cm.Data[metadataKey]
			if !ok {
				continue
			}
			meta, err := decodeDocument([]byte(raw), cm.Name)
			if err != nil {
				continue
			}
			select {
			case events <- models.MetadataEvent{Namespace: cm.Name, Metadata: meta}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (k *KubernetesBackend) Close() {}

func translateAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) || apierrors.IsServiceUnavailable(err) || apierrors.IsTooManyRequests(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
