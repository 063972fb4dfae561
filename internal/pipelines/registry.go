package pipelines

import (
	"fmt"
	"sort"

	"github.com/3cpo-dev/gpipe/pkg/api"
)

// Sample is a named request builder.
type Sample struct {
	Name        string
	Description string
	// Batchable samples accept any number of inputs and may be split into
	// several submissions.
	Batchable bool
	Build     func(Params) (*api.RunPipelineRequest, error)
}

type Registry struct {
	samples map[string]Sample
}

func NewRegistry() *Registry {
	return &Registry{samples: map[string]Sample{}}
}

// DefaultRegistry holds every built-in sample.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Sample{Name: "compress", Description: "Compress or decompress files with gzip/gunzip/bzip2/bunzip2", Batchable: true, Build: BuildCompress})
	r.Register(Sample{Name: "gzip", Description: "Compress a single file with gzip", Build: BuildGzip})
	r.Register(Sample{Name: "fastqc", Description: "Run FastQC on one or more files", Batchable: true, Build: BuildFastQC})
	r.Register(Sample{Name: "set-vcf-sample-id", Description: "Set the sample ID in VCF headers", Batchable: true, Build: BuildSetVCFSampleID})
	r.Register(Sample{Name: "bioconductor", Description: "Count overlaps in a BAM with Bioconductor", Build: BuildBioconductor})
	r.Register(Sample{Name: "samtools", Description: "Index a BAM with a persisted samtools pipeline", Build: BuildSamtools})
	return r
}

func (r *Registry) Register(s Sample) {
	r.samples[s.Name] = s
}

func (r *Registry) Get(name string) (Sample, error) {
	s, ok := r.samples[name]
	if !ok {
		return Sample{}, fmt.Errorf("sample not registered: %s", name)
	}
	return s, nil
}

// Names returns the registered sample names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.samples))
	for n := range r.samples {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
