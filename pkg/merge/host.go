package merge

// Artifact is an emitted asset.
type Artifact interface {
	Source() string
	Size() int
}

// RawArtifact is the Artifact used when the host does not provide its own.
type RawArtifact string

func (a RawArtifact) Source() string { return string(a) }

// Size returns the length of the content in bytes.
func (a RawArtifact) Size() int { return len(a) }

// AssetCollection receives the emitted assets. Emitting a name twice
// replaces the earlier artifact.
type AssetCollection interface {
	EmitAsset(name string, a Artifact) error
}

// UnitRegistry is the build-unit graph of a host. Hosts without one leave
// Host.Units nil; chunk gating and unit registration are then skipped.
type UnitRegistry interface {
	// Rendered reports whether a unit called name exists and produced
	// output in the current build.
	Rendered(name string) bool

	// AddUnit creates a new unit registered under identity.
	AddUnit(identity string) Unit
}

// Unit is a build unit created through a UnitRegistry.
type Unit interface {
	SetID(id string)
	SetIDs(ids []string)
	AddFile(name string)
}

// Host describes what the surrounding build offers to a merge run.
type Host struct {
	Hash   HashOptions
	Assets AssetCollection // required
	Units  UnitRegistry    // optional

	// NewArtifact wraps content into the host's artifact type. RawArtifact
	// is used when nil.
	NewArtifact func(content string) Artifact
}

func (h Host) artifact(content string) Artifact {
	if h.NewArtifact != nil {
		return h.NewArtifact(content)
	}
	return RawArtifact(content)
}

func registerUnit(units UnitRegistry, name, finalName string) {
	id := unitIdentity(name)
	u := units.AddUnit(id)
	u.SetID(id)
	u.SetIDs([]string{id})
	u.AddFile(finalName)
}
