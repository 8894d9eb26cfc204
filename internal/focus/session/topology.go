package session

// Topology decides which Octo links to establish when a conference gains
// a bridge. The default is a full mesh within a single mesh partition;
// alternative implementations may partition large conferences into
// several meshes.
type Topology interface {
	// Links returns the existing relay IDs the added relay connects to.
	Links(existing []string, added string) []string

	// MeshID returns the mesh partition for a link between two relays.
	MeshID(a, b string) string
}

// FullMesh links every bridge to every other bridge in one mesh.
type FullMesh struct{}

// Links implements Topology.
func (FullMesh) Links(existing []string, added string) []string {
	return existing
}

// MeshID implements Topology.
func (FullMesh) MeshID(a, b string) string {
	return "0"
}
