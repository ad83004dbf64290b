package parser

import "sort"

// NodeTypeSet is an immutable set of ComfyUI class types.
type NodeTypeSet struct {
	names map[string]struct{}
}

func NewNodeTypeSet(names ...string) NodeTypeSet {
	s := NodeTypeSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n != "" {
			s.names[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether classType belongs to the set.
func (s NodeTypeSet) Has(classType string) bool {
	_, ok := s.names[classType]
	return ok
}

// With returns a new set holding the members of s plus names. s is unchanged.
func (s NodeTypeSet) With(names ...string) NodeTypeSet {
	all := make([]string, 0, len(s.names)+len(names))
	all = append(all, s.Names()...)
	all = append(all, names...)
	return NewNodeTypeSet(all...)
}

// Names returns the members in lexical order.
func (s NodeTypeSet) Names() []string {
	retv := make([]string, 0, len(s.names))
	for n := range s.names {
		retv = append(retv, n)
	}
	sort.Strings(retv)
	return retv
}

func (s NodeTypeSet) Len() int {
	return len(s.names)
}

// NodeTypes holds the recognized class types that decide which extractor a
// node takes part in.
type NodeTypes struct {
	Prompt     NodeTypeSet
	Checkpoint NodeTypeSet
	Sampler    NodeTypeSet
	Latent     NodeTypeSet
	VAE        NodeTypeSet
}

// ExtraNodeTypes lists additional class types per recognized set, usually
// from configuration.
type ExtraNodeTypes struct {
	Prompt     []string `toml:"prompt"`
	Checkpoint []string `toml:"checkpoint"`
	Sampler    []string `toml:"sampler"`
	Latent     []string `toml:"latent"`
	VAE        []string `toml:"vae"`
}

func DefaultNodeTypes() NodeTypes {
	return NodeTypes{
		Prompt: NewNodeTypeSet(
			"CLIPTextEncode",
			"CLIPTextEncodeSDXL",
			"CLIPTextEncodeSDXLRefiner",
			"ConditioningCombine",
			"ConditioningConcat",
			"ConditioningAverage",
			"ConditioningSetArea",
		),
		Checkpoint: NewNodeTypeSet("CheckpointLoaderSimple", "CheckpointLoader"),
		Sampler:    NewNodeTypeSet("KSampler", "KSamplerAdvanced"),
		Latent:     NewNodeTypeSet("EmptyLatentImage", "LatentUpscale"),
		VAE:        NewNodeTypeSet("VAELoader", "VAEDecode", "VAEEncode"),
	}
}

// Extend returns a copy of nt with the extra class types added.
func (nt NodeTypes) Extend(extra ExtraNodeTypes) NodeTypes {
	return NodeTypes{
		Prompt:     nt.Prompt.With(extra.Prompt...),
		Checkpoint: nt.Checkpoint.With(extra.Checkpoint...),
		Sampler:    nt.Sampler.With(extra.Sampler...),
		Latent:     nt.Latent.With(extra.Latent...),
		VAE:        nt.VAE.With(extra.VAE...),
	}
}
