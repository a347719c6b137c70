// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package processes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cedadev/swallow"
)

// Hello greets.  It is handy for checking that a deployment works.
type Hello struct {
	desc *swallow.ProcessDescription
}

func NewHello() *Hello {
	return &Hello{desc: &swallow.ProcessDescription{
		Identifier: "hello",
		Title:      "Say Hello",
		Abstract:   "Just says a friendly Hello. Returns a literal string output with Hello plus the inputed name.",
		Version:    "1.5",
		Inputs: []swallow.LiteralInput{{
			Identifier: "name",
			Title:      "Your name",
			Abstract:   "Please enter your name.",
			DataType:   swallow.TypeString,
			MinOccurs:  1,
		}},
		Outputs: []swallow.Output{{
			Identifier: "output",
			Title:      "Output response",
			Abstract:   "A friendly Hello from us.",
			Kind:       swallow.LiteralOutput,
			DataType:   swallow.TypeString,
		}},
		StoreSupported:  true,
		StatusSupported: true,
	}}
}

func (p *Hello) Describe() *swallow.ProcessDescription {
	return p.desc
}

func (p *Hello) Execute(ctx context.Context, req *swallow.Request, resp *swallow.Response) error {
	req.Logger().Info("say hello", zap.String("name", req.String("name")))
	return resp.SetLiteral("output", "Hello "+req.String("name"))
}

// Sleep waits for a while, reporting progress.  It exercises
// asynchronous execution and dismissal.
type Sleep struct {
	desc *swallow.ProcessDescription
}

func NewSleep() *Sleep {
	return &Sleep{desc: &swallow.ProcessDescription{
		Identifier: "sleep",
		Title:      "Sleep Process",
		Abstract:   "Testing a long running process, in the sleep. This process will sleep for a given delay or 1 second if not a valid value.",
		Version:    "1.0",
		Inputs: []swallow.LiteralInput{{
			Identifier: "delay",
			Title:      "Delay",
			Abstract:   "Time to sleep in seconds.",
			DataType:   swallow.TypeFloat,
			Default:    "1",
		}},
		Outputs: []swallow.Output{{
			Identifier: "output",
			Title:      "Output response",
			Kind:       swallow.LiteralOutput,
			DataType:   swallow.TypeString,
		}},
		StoreSupported:  true,
		StatusSupported: true,
	}}
}

func (p *Sleep) Describe() *swallow.ProcessDescription {
	return p.desc
}

func (p *Sleep) Execute(ctx context.Context, req *swallow.Request, resp *swallow.Response) error {
	delay := req.Float("delay")
	if delay < 0 {
		delay = 1
	}
	step := time.Duration(delay * float64(time.Second) / 4)
	for i := 1; i <= 3; i++ {
		if e := pause(ctx, step); e != nil {
			return e
		}
		resp.UpdateStatus("sleep in progress...", i*25)
	}
	if e := pause(ctx, step); e != nil {
		return e
	}
	return resp.SetLiteral("output", "done sleeping")
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
