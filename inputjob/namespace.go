package inputjob

// DefaultNamespace is used when a descriptor is created without a namespace.
const DefaultNamespace = "default"

// NormalizeNamespace returns namespace, or DefaultNamespace when it is empty.
// Non-empty values are kept verbatim, including case and surrounding spaces.
func NormalizeNamespace(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}
