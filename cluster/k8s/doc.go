// Package k8s provides scheduler leadership on the Kubernetes
// coordination/v1 Lease API, for deployments that would rather not keep a
// lease row in the database.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	lease := k8s.New(client, "scheduling")
//	eng, err := engine.Build(store, engine.WithLeadership(lease))
package k8s
