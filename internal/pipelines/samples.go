package pipelines

import (
	"fmt"
	"strings"

	"github.com/3cpo-dev/gpipe/internal/transport"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// Scopes granted to the default service account by samples that set one.
var DefaultServiceAccountScopes = []string{
	"https://www.googleapis.com/auth/compute",
	"https://www.googleapis.com/auth/devstorage.full_control",
	"https://www.googleapis.com/auth/genomics",
}

// CompressOperations are the commands the compress sample accepts.
var CompressOperations = []string{"gzip", "gunzip", "bzip2", "bunzip2"}

// Params carries everything a sample may need. Each sample reads its own subset.
type Params struct {
	Project    string
	Zones      []string
	DiskSizeGb int
	Inputs     []string
	Output     string
	Logging    string

	// compress
	Operation string

	// set-vcf-sample-id
	OriginalSampleID string
	NewSampleID      string
	ScriptPath       string

	// bioconductor
	Script string
	BAM    string
	Index  string

	// samtools
	PipelineID string

	ServiceAccount *api.ServiceAccount
	Labels         map[string]string
}

func (p Params) validateCommon(v *transport.Validator) {
	v.Required("project", p.Project)
	v.GCSPath("logging", p.Logging)
}

func (p Params) serviceAccount() *api.ServiceAccount {
	if p.ServiceAccount != nil {
		return p.ServiceAccount
	}
	return &api.ServiceAccount{Email: "default", Scopes: DefaultServiceAccountScopes}
}

// inputParameters declares inputFile0..N-1, all copied to dir on disk.
func inputParameters(n int, dir, disk, description string) []api.Parameter {
	params := make([]api.Parameter, 0, n)
	for i := 0; i < n; i++ {
		params = append(params, api.Parameter{
			Name:        fmt.Sprintf("inputFile%d", i),
			Description: description,
			LocalCopy:   &api.LocalCopy{Path: dir, Disk: disk},
		})
	}
	return params
}

// inputValues maps inputFile0..N-1 to the given paths.
func inputValues(paths []string) map[string]string {
	m := make(map[string]string, len(paths))
	for i, v := range paths {
		m[fmt.Sprintf("inputFile%d", i)] = v
	}
	return m
}

// BuildCompress runs gzip, gunzip, bzip2 or bunzip2 over every input file.
func BuildCompress(p Params) (*api.RunPipelineRequest, error) {
	if p.Operation == "" {
		p.Operation = "gzip"
	}
	var v transport.Validator
	p.validateCommon(&v)
	v.Positive("disk-size", p.DiskSizeGb)
	v.NonEmpty("zones", p.Zones)
	v.NonEmpty("input", p.Inputs)
	for _, in := range p.Inputs {
		v.GCSPath("input", in)
	}
	v.OneOf("operation", p.Operation, CompressOperations...)
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}

	return &api.RunPipelineRequest{
		EphemeralPipeline: &api.Pipeline{
			ProjectID:   p.Project,
			Name:        "compress",
			Description: "Compress or decompress a file",
			Resources: &api.Resources{
				Disks: []api.Disk{{Name: "datadisk", AutoDelete: true, MountPoint: "/mnt/data"}},
			},
			Docker: &api.Docker{
				ImageName: "ubuntu",
				Cmd: "cd /mnt/data/workspace && " +
					"for file in $(/bin/ls); do " +
					p.Operation + " ${file}; " +
					"done",
			},
			InputParameters: inputParameters(len(p.Inputs), "workspace/", "datadisk", "Cloud Storage path to an input file"),
			OutputParameters: []api.Parameter{{
				Name:        "outputPath",
				Description: "Cloud Storage path for where to write the output",
				LocalCopy:   &api.LocalCopy{Path: "workspace/*", Disk: "datadisk"},
			}},
		},
		PipelineArgs: api.RunPipelineArgs{
			ProjectID: p.Project,
			Resources: &api.Resources{
				Zones: p.Zones,
				Disks: []api.Disk{{Name: "datadisk", SizeGb: p.DiskSizeGb}},
			},
			Inputs:  inputValues(p.Inputs),
			Outputs: map[string]string{"outputPath": p.Output},
			Logging: &api.Logging{GcsPath: p.Logging},
			Labels:  p.Labels,
		},
	}, nil
}

// BuildGzip compresses a single file. Zones are optional.
func BuildGzip(p Params) (*api.RunPipelineRequest, error) {
	var v transport.Validator
	p.validateCommon(&v)
	v.Positive("disk-size", p.DiskSizeGb)
	v.Exactly("input", p.Inputs, 1)
	for _, in := range p.Inputs {
		v.GCSPath("input", in)
	}
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}

	return &api.RunPipelineRequest{
		EphemeralPipeline: &api.Pipeline{
			ProjectID:   p.Project,
			Name:        "compress",
			Description: `Run "gzip" on a file`,
			Resources: &api.Resources{
				MinimumCpuCores: 1,
				MinimumRamGb:    3.75,
				Disks: []api.Disk{{
					Name:       "data",
					AutoDelete: true,
					MountPoint: "/mnt/data",
					SizeGb:     500,
					Type:       api.DiskPersistentHDD,
				}},
			},
			Docker: &api.Docker{ImageName: "ubuntu", Cmd: "gzip /mnt/data/my_file"},
			InputParameters: []api.Parameter{{
				Name:        "inputFile",
				Description: "Cloud Storage path to an uncompressed file",
				LocalCopy:   &api.LocalCopy{Path: "my_file", Disk: "data"},
			}},
			OutputParameters: []api.Parameter{{
				Name:        "outputFile",
				Description: "Cloud Storage path for where to write the compressed result",
				LocalCopy:   &api.LocalCopy{Path: "my_file.gz", Disk: "data"},
			}},
		},
		PipelineArgs: api.RunPipelineArgs{
			ProjectID: p.Project,
			Resources: &api.Resources{
				MinimumRamGb: 1,
				Zones:        p.Zones,
				Disks:        []api.Disk{{Name: "data", SizeGb: p.DiskSizeGb, Type: api.DiskPersistentHDD}},
			},
			Inputs:         map[string]string{"inputFile": p.Inputs[0]},
			Outputs:        map[string]string{"outputFile": p.Output},
			Logging:        &api.Logging{GcsPath: p.Logging},
			ServiceAccount: p.serviceAccount(),
			Labels:         p.Labels,
		},
	}, nil
}

// BuildFastQC runs FastQC over every input file. The image is expected at
// gcr.io/<project>/fastqc.
func BuildFastQC(p Params) (*api.RunPipelineRequest, error) {
	var v transport.Validator
	p.validateCommon(&v)
	v.Positive("disk-size", p.DiskSizeGb)
	v.NonEmpty("zones", p.Zones)
	v.NonEmpty("input", p.Inputs)
	for _, in := range p.Inputs {
		v.GCSPath("input", in)
	}
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}

	return &api.RunPipelineRequest{
		EphemeralPipeline: &api.Pipeline{
			ProjectID:   p.Project,
			Name:        "fastqc",
			Description: `Run "FastQC" on one or more files`,
			Resources: &api.Resources{
				MinimumCpuCores: 1,
				MinimumRamGb:    3.75,
				Disks: []api.Disk{{
					Name:       "datadisk",
					AutoDelete: true,
					MountPoint: "/mnt/data",
					SizeGb:     500,
					Type:       api.DiskPersistentHDD,
				}},
			},
			Docker: &api.Docker{
				ImageName: "gcr.io/" + p.Project + "/fastqc",
				// The service creates the input directory but not the output one.
				Cmd: "mkdir /mnt/data/output && fastqc /mnt/data/input/* --outdir=/mnt/data/output/",
			},
			InputParameters: inputParameters(len(p.Inputs), "input/", "datadisk", "Cloud Storage path to an input file"),
			OutputParameters: []api.Parameter{{
				Name:        "outputPath",
				Description: "Cloud Storage path for where to FastQC output",
				LocalCopy:   &api.LocalCopy{Path: "output/*", Disk: "datadisk"},
			}},
		},
		PipelineArgs: api.RunPipelineArgs{
			ProjectID: p.Project,
			Resources: &api.Resources{
				MinimumRamGb: 1,
				Zones:        p.Zones,
				Disks:        []api.Disk{{Name: "datadisk", AutoDelete: true, SizeGb: p.DiskSizeGb, Type: api.DiskPersistentHDD}},
			},
			Inputs:         inputValues(p.Inputs),
			Outputs:        map[string]string{"outputPath": p.Output},
			Logging:        &api.Logging{GcsPath: p.Logging},
			ServiceAccount: p.serviceAccount(),
			Labels:         p.Labels,
		},
	}, nil
}

// BuildSetVCFSampleID rewrites the sample id in the header of each input VCF.
// ORIGINAL_SAMPLE_ID is declared only when an original id is given, since the
// service rejects inputs without a value.
func BuildSetVCFSampleID(p Params) (*api.RunPipelineRequest, error) {
	var v transport.Validator
	p.validateCommon(&v)
	v.Positive("disk-size", p.DiskSizeGb)
	v.NonEmpty("zones", p.Zones)
	v.NonEmpty("input", p.Inputs)
	for _, in := range p.Inputs {
		v.GCSPath("input", in)
	}
	v.Required("new-sample-id", p.NewSampleID)
	v.GCSPath("script-path", p.ScriptPath)
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}
	scripts := strings.TrimRight(p.ScriptPath, "/")

	params := inputParameters(len(p.Inputs), "input/", "datadisk", "Cloud Storage path to input file(s)")
	params = append(params,
		api.Parameter{
			Name:         "setVcfSampleId_Script",
			Description:  "Cloud Storage path to process_vcfs.sh script",
			DefaultValue: scripts + "/process_vcfs.sh",
			LocalCopy:    &api.LocalCopy{Path: "scripts/", Disk: "datadisk"},
		},
		api.Parameter{
			Name:         "setVcfSampleId_Python",
			Description:  "Cloud Storage path to set_vcf_sample_id.py script",
			DefaultValue: scripts + "/set_vcf_sample_id.py",
			LocalCopy:    &api.LocalCopy{Path: "scripts/", Disk: "datadisk"},
		},
	)
	inputs := inputValues(p.Inputs)
	if p.OriginalSampleID != "" {
		params = append(params, api.Parameter{
			Name:        "ORIGINAL_SAMPLE_ID",
			Description: "Sample ID which must already appear in the VCF header",
		})
		inputs["ORIGINAL_SAMPLE_ID"] = p.OriginalSampleID
	}
	params = append(params, api.Parameter{
		Name:        "NEW_SAMPLE_ID",
		Description: "New sample ID to set in the VCF header",
	})
	inputs["NEW_SAMPLE_ID"] = p.NewSampleID

	return &api.RunPipelineRequest{
		EphemeralPipeline: &api.Pipeline{
			ProjectID:   p.Project,
			Name:        "set_vcf_sample_id",
			Description: "Set the sample ID in a VCF header",
			Resources: &api.Resources{
				Disks: []api.Disk{{Name: "datadisk", AutoDelete: true, MountPoint: "/mnt/data"}},
			},
			Docker: &api.Docker{
				ImageName: "python:2.7",
				Cmd: "mkdir /mnt/data/output && " +
					"export SCRIPT_DIR=/mnt/data/scripts && " +
					"chmod u+x ${SCRIPT_DIR}/* && " +
					"${SCRIPT_DIR}/process_vcfs.sh " +
					`"${ORIGINAL_SAMPLE_ID:-}" ` +
					`"${NEW_SAMPLE_ID}" ` +
					`"/mnt/data/input/*" ` +
					`"/mnt/data/output"`,
			},
			InputParameters: params,
			OutputParameters: []api.Parameter{{
				Name:        "outputPath",
				Description: "Cloud Storage path for where to copy the output",
				LocalCopy:   &api.LocalCopy{Path: "output/*", Disk: "datadisk"},
			}},
		},
		PipelineArgs: api.RunPipelineArgs{
			ProjectID: p.Project,
			Resources: &api.Resources{
				MinimumRamGb: 1,
				Zones:        p.Zones,
				Disks:        []api.Disk{{Name: "datadisk", SizeGb: p.DiskSizeGb}},
			},
			Inputs:  inputs,
			Outputs: map[string]string{"outputPath": p.Output},
			Logging: &api.Logging{GcsPath: p.Logging},
			Labels:  p.Labels,
		},
	}, nil
}

// BuildBioconductor counts overlaps in a BAM with an R script. Output is a
// Cloud Storage directory receiving overlapsCount.tsv and script.Rout.
func BuildBioconductor(p Params) (*api.RunPipelineRequest, error) {
	var v transport.Validator
	p.validateCommon(&v)
	v.GCSPath("script", p.Script)
	v.GCSPath("bam", p.BAM)
	v.GCSPath("index", p.Index)
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}
	out := strings.TrimRight(p.Output, "/")
	disk := 100
	if p.DiskSizeGb > 0 {
		disk = p.DiskSizeGb
	}
	local := func(path string) *api.LocalCopy { return &api.LocalCopy{Path: path, Disk: "data"} }

	req := &api.RunPipelineRequest{
		EphemeralPipeline: &api.Pipeline{
			ProjectID:   p.Project,
			Name:        "Bioconductor: count overlaps in a BAM",
			Description: "Counts overlaps in a BAM file with BiocParallel.",
			Resources: &api.Resources{
				MinimumCpuCores: 1,
				MinimumRamGb:    3.75,
				Disks: []api.Disk{{
					Name:       "data",
					AutoDelete: true,
					MountPoint: "/mnt/data",
					SizeGb:     disk,
					Type:       api.DiskPersistentHDD,
				}},
			},
			Docker: &api.Docker{
				ImageName: "bioconductor/release_core",
				Cmd:       `/bin/bash -c "cd /mnt/data/ ; R CMD BATCH script.R"`,
			},
			InputParameters: []api.Parameter{
				{Name: "script", Description: "Cloud Storage path to the R script to run.", LocalCopy: local("script.R")},
				{Name: "bamFile", Description: "Cloud Storage path to the BAM file.", LocalCopy: local("input.bam")},
				{Name: "indexFile", Description: "Cloud Storage path to the BAM index file.", LocalCopy: local("input.bam.bai")},
			},
			OutputParameters: []api.Parameter{
				{Name: "outputFile", Description: "Cloud Storage path for where to write the result.", LocalCopy: local("overlapsCount.tsv")},
				{Name: "rBatchLogFile", Description: "Cloud Storage path for where to write the R batch log file.", LocalCopy: local("script.Rout")},
			},
		},
		PipelineArgs: api.RunPipelineArgs{
			ProjectID: p.Project,
			Inputs: map[string]string{
				"script":    p.Script,
				"bamFile":   p.BAM,
				"indexFile": p.Index,
			},
			Outputs: map[string]string{
				"outputFile":    out + "/overlapsCount.tsv",
				"rBatchLogFile": out + "/script.Rout",
			},
			Logging:        &api.Logging{GcsPath: p.Logging},
			ServiceAccount: p.serviceAccount(),
			Labels:         p.Labels,
		},
	}
	if len(p.Zones) > 0 {
		req.PipelineArgs.Resources = &api.Resources{Zones: p.Zones}
	}
	return req, nil
}

// SamtoolsPipeline is the persisted "samtools index" definition.
func SamtoolsPipeline(project string) *api.Pipeline {
	return &api.Pipeline{
		ProjectID:   project,
		Name:        "samtools index",
		Description: `Run "samtools index" on a BAM file`,
		Docker: &api.Docker{
			Cmd:       "samtools index /mnt/data/input.bam /mnt/data/output.bam.bai",
			ImageName: "gcr.io/" + project + "/samtools",
		},
		InputParameters: []api.Parameter{{
			Name:        "inputFile",
			Description: "GCS path to a BAM to index",
			LocalCopy:   &api.LocalCopy{Path: "input.bam", Disk: "data"},
		}},
		OutputParameters: []api.Parameter{{
			Name:        "outputFile",
			Description: "GCS path for where to write the BAM index",
			LocalCopy:   &api.LocalCopy{Path: "output.bam.bai", Disk: "data"},
		}},
		Resources: &api.Resources{
			Disks: []api.Disk{{
				Name:       "data",
				AutoDelete: true,
				MountPoint: "/mnt/data",
				SizeGb:     10,
				Type:       api.DiskPersistentHDD,
			}},
			MinimumCpuCores: 1,
			MinimumRamGb:    1,
		},
	}
}

// BuildSamtools runs a persisted samtools pipeline by id on one BAM.
func BuildSamtools(p Params) (*api.RunPipelineRequest, error) {
	var v transport.Validator
	p.validateCommon(&v)
	v.Required("pipeline-id", p.PipelineID)
	v.Exactly("input", p.Inputs, 1)
	for _, in := range p.Inputs {
		v.GCSPath("input", in)
	}
	v.GCSPath("output", p.Output)
	if err := v.Err(); err != nil {
		return nil, err
	}
	req := &api.RunPipelineRequest{
		PipelineID: p.PipelineID,
		PipelineArgs: api.RunPipelineArgs{
			ProjectID:      p.Project,
			Inputs:         map[string]string{"inputFile": p.Inputs[0]},
			Outputs:        map[string]string{"outputFile": p.Output},
			Logging:        &api.Logging{GcsPath: p.Logging},
			ServiceAccount: &api.ServiceAccount{Email: "default", Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"}},
			Labels:         p.Labels,
		},
	}
	if p.ServiceAccount != nil {
		req.PipelineArgs.ServiceAccount = p.ServiceAccount
	}
	if len(p.Zones) > 0 {
		req.PipelineArgs.Resources = &api.Resources{Zones: p.Zones}
	}
	return req, nil
}
