package pipelines

import "github.com/3cpo-dev/gpipe/pkg/api"

// ChunkInputs splits a list of inputs into chunks of at most chunkSize.
func ChunkInputs(inputs []string, chunkSize int) [][]string {
	if chunkSize <= 0 {
		return [][]string{inputs}
	}
	var chunks [][]string
	for i := 0; i < len(inputs); i += chunkSize {
		end := i + chunkSize
		if end > len(inputs) {
			end = len(inputs)
		}
		chunks = append(chunks, inputs[i:end])
	}
	return chunks
}

// BuildBatches builds one request per chunk of p.Inputs. Samples that are not
// batchable always yield a single request.
func BuildBatches(s Sample, p Params, batchSize int) ([]*api.RunPipelineRequest, error) {
	if !s.Batchable {
		batchSize = 0
	}
	chunks := ChunkInputs(p.Inputs, batchSize)
	if len(chunks) == 0 {
		chunks = [][]string{nil}
	}
	var reqs []*api.RunPipelineRequest
	for _, chunk := range chunks {
		cp := p
		cp.Inputs = chunk
		req, err := s.Build(cp)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
