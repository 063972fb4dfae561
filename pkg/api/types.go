package api

import (
	"encoding/json"
	"fmt"
)

// v1alpha2 wire types for the Genomics Pipelines API.

type Disk struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	SizeGb     int    `json:"sizeGb,omitempty" yaml:"sizeGb,omitempty"`
	AutoDelete bool   `json:"autoDelete,omitempty" yaml:"autoDelete,omitempty"`
	MountPoint string `json:"mountPoint,omitempty" yaml:"mountPoint,omitempty"`
}

const (
	DiskPersistentHDD = "PERSISTENT_HDD"
	DiskPersistentSSD = "PERSISTENT_SSD"
)

type Resources struct {
	MinimumCpuCores int      `json:"minimumCpuCores,omitempty" yaml:"minimumCpuCores,omitempty"`
	MinimumRamGb    float64  `json:"minimumRamGb,omitempty" yaml:"minimumRamGb,omitempty"`
	Preemptible     bool     `json:"preemptible,omitempty" yaml:"preemptible,omitempty"`
	Zones           []string `json:"zones,omitempty" yaml:"zones,omitempty"`
	Disks           []Disk   `json:"disks,omitempty" yaml:"disks,omitempty"`
}

type Docker struct {
	ImageName string `json:"imageName" yaml:"imageName"`
	Cmd       string `json:"cmd" yaml:"cmd"`
}

// LocalCopy places a parameter's Cloud Storage object at Path on Disk.
type LocalCopy struct {
	Path string `json:"path" yaml:"path"`
	Disk string `json:"disk" yaml:"disk"`
}

type Parameter struct {
	Name         string     `json:"name" yaml:"name"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultValue string     `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	LocalCopy    *LocalCopy `json:"localCopy,omitempty" yaml:"localCopy,omitempty"`
}

// Pipeline is a pipeline definition. Submitted inline it is ephemeral and is
// never persisted by the service.
type Pipeline struct {
	PipelineID       string      `json:"pipelineId,omitempty" yaml:"pipelineId,omitempty"`
	ProjectID        string      `json:"projectId" yaml:"projectId"`
	Name             string      `json:"name" yaml:"name"`
	Description      string      `json:"description,omitempty" yaml:"description,omitempty"`
	Resources        *Resources  `json:"resources,omitempty" yaml:"resources,omitempty"`
	Docker           *Docker     `json:"docker,omitempty" yaml:"docker,omitempty"`
	InputParameters  []Parameter `json:"inputParameters,omitempty" yaml:"inputParameters,omitempty"`
	OutputParameters []Parameter `json:"outputParameters,omitempty" yaml:"outputParameters,omitempty"`
}

type Logging struct {
	GcsPath string `json:"gcsPath" yaml:"gcsPath"`
}

type ServiceAccount struct {
	Email  string   `json:"email" yaml:"email"`
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

type RunPipelineArgs struct {
	ProjectID      string            `json:"projectId" yaml:"projectId"`
	Inputs         map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs        map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Resources      *Resources        `json:"resources,omitempty" yaml:"resources,omitempty"`
	Logging        *Logging          `json:"logging,omitempty" yaml:"logging,omitempty"`
	ServiceAccount *ServiceAccount   `json:"serviceAccount,omitempty" yaml:"serviceAccount,omitempty"`
	Labels         map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// RunPipelineRequest carries either PipelineID or EphemeralPipeline.
type RunPipelineRequest struct {
	PipelineID        string          `json:"pipelineId,omitempty" yaml:"pipelineId,omitempty"`
	EphemeralPipeline *Pipeline       `json:"ephemeralPipeline,omitempty" yaml:"ephemeralPipeline,omitempty"`
	PipelineArgs      RunPipelineArgs `json:"pipelineArgs" yaml:"pipelineArgs"`
}

type Status struct {
	Code    int    `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// Operation is a snapshot of a long-running operation. Only Name and Done are
// interpreted; Metadata and Response are passed through untouched.
type Operation struct {
	Name     string          `json:"name" yaml:"name"`
	Done     bool            `json:"done" yaml:"done"`
	Error    *Status         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty" yaml:"-"`
	Response json.RawMessage `json:"response,omitempty" yaml:"-"`
}

// Failed reports whether a finished operation carries an error status.
func (o *Operation) Failed() bool { return o.Done && o.Error != nil }

// MarshalYAML renders Metadata and Response as decoded YAML instead of raw
// JSON bytes.
func (o Operation) MarshalYAML() (interface{}, error) {
	out := struct {
		Name     string      `yaml:"name"`
		Done     bool        `yaml:"done"`
		Error    *Status     `yaml:"error,omitempty"`
		Metadata interface{} `yaml:"metadata,omitempty"`
		Response interface{} `yaml:"response,omitempty"`
	}{Name: o.Name, Done: o.Done, Error: o.Error}
	if len(o.Metadata) > 0 {
		if err := json.Unmarshal(o.Metadata, &out.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", o.Name, err)
		}
	}
	if len(o.Response) > 0 {
		if err := json.Unmarshal(o.Response, &out.Response); err != nil {
			return nil, fmt.Errorf("decode response of %s: %w", o.Name, err)
		}
	}
	return out, nil
}
