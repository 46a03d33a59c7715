package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// statusResourceNotFound is the status the service uses for a missing input resource.
const statusResourceNotFound = 480

type process struct {
	id        string
	processor string
	input     json.RawMessage
	state     string
	percent   int
	polls     int
	expires   time.Time
	node      *node
	run       work
	forced    *outcome

	output       any
	errorCode    string
	errorDetails any
}

// work produces a process's output on the node it runs on, or the error it ends with.
type work func(n *node) (any, *outcome)

// rejection is an error returned synchronously from process creation.
type rejection struct {
	status  int
	code    string
	details any
}

type processorFunc func(c *Cluster, input json.RawMessage) (work, *rejection)

var processors = map[string]processorFunc{
	"contentConverters":  prepareConversion,
	"redactionCreators":  prepareRedactionCreation,
	"markupBurners":      prepareBurn,
	"plainTextRedactors": preparePlainTextRedaction,
}

func invalidInput(at string) *rejection {
	return &rejection{status: http.StatusBadRequest, code: "InvalidInput", details: bodyField(at)}
}

func notFound(at string) *rejection {
	return &rejection{status: statusResourceNotFound, code: "ResourceNotFound", details: bodyField(at)}
}

func failed(code, at string) *outcome {
	return &outcome{state: "error", code: code, details: bodyField(at)}
}

func indexed(format string, i int) string {
	return fmt.Sprintf(format, i)
}

// finish runs the process to a terminal state. Callers hold c.mu.
func (c *Cluster) finish(p *process) {
	p.percent = 100
	if p.forced != nil {
		p.state = p.forced.state
		p.errorCode = p.forced.code
		p.errorDetails = p.forced.details
		return
	}
	out, fail := p.run(p.node)
	if fail != nil {
		p.state = "error"
		p.errorCode = fail.code
		p.errorDetails = fail.details
		return
	}
	p.state = "complete"
	p.output = out
}

type processView struct {
	ProcessID          string          `json:"processId"`
	ExpirationDateTime time.Time       `json:"expirationDateTime"`
	Input              json.RawMessage `json:"input"`
	State              string          `json:"state"`
	PercentComplete    int             `json:"percentComplete"`
	Output             any             `json:"output,omitempty"`
	ErrorCode          string          `json:"errorCode,omitempty"`
	ErrorDetails       any             `json:"errorDetails,omitempty"`
}

func (p *process) view() processView {
	return processView{
		ProcessID:          p.id,
		ExpirationDateTime: p.expires,
		Input:              p.input,
		State:              p.state,
		PercentComplete:    p.percent,
		Output:             p.output,
		ErrorCode:          p.errorCode,
		ErrorDetails:       p.errorDetails,
	}
}
