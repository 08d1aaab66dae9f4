package logscan

import (
	"io"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// TaskRun is one task cycle reconstructed from the log.
type TaskRun struct {
	Task      string        `json:"task"`
	Priority  int           `json:"priority"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end,omitempty"`
	Success   bool          `json:"success"`
	Finished  bool          `json:"finished"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Observed  string        `json:"observed,omitempty"`
	Resumes   int           `json:"resumes"`
	Duration  time.Duration `json:"duration"`
	Line      int           `json:"line"`
}

// Takeover is a HumanTakeover event seen in the log.
type Takeover struct {
	Domain string    `json:"domain"`
	Reason string    `json:"reason"`
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
}

// Reading is one fodder batch's balance check.
type Reading struct {
	Domain   string    `json:"domain"`
	Batch    int       `json:"batch"`
	Balance  int       `json:"balance"`
	Consumed int       `json:"consumed"`
	Time     time.Time `json:"time"`
}

// TaskStats aggregates the runs of one task.
type TaskStats struct {
	Task    string        `json:"task"`
	Runs    int           `json:"runs"`
	Failed  int           `json:"failed"`
	Average time.Duration `json:"average"`
}

// Summary is everything the analyzers extracted from one log.
type Summary struct {
	Start        time.Time      `json:"start,omitempty"`
	End          time.Time      `json:"end,omitempty"`
	Entries      int            `json:"entries"`
	Runs         []TaskRun      `json:"runs"`
	Errors       []Entry        `json:"errors"`
	Warnings     int            `json:"warnings"`
	ErrorKinds   map[string]int `json:"error_kinds"`
	Interrupts   map[string]int `json:"interrupts"`
	LadderStages map[int]int    `json:"ladder_stages"`
	Takeovers    []Takeover     `json:"takeovers"`
	Balances     []Reading      `json:"balances"`
	Consumed     map[string]int `json:"consumed"`
}

// Duration is the span between the first and last timestamp.
func (s *Summary) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Stats aggregates runs per task, most runs first.
func (s *Summary) Stats() []TaskStats {
	byTask := make(map[string]*TaskStats)
	totals := make(map[string]time.Duration)
	timed := make(map[string]int)
	for _, r := range s.Runs {
		st, ok := byTask[r.Task]
		if !ok {
			st = &TaskStats{Task: r.Task}
			byTask[r.Task] = st
		}
		st.Runs++
		if r.Finished && !r.Success {
			st.Failed++
		}
		if r.Finished {
			totals[r.Task] += r.Duration
			timed[r.Task]++
		}
	}
	out := make([]TaskStats, 0, len(byTask))
	for name, st := range byTask {
		if timed[name] > 0 {
			st.Average = totals[name] / time.Duration(timed[name])
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Runs != out[j].Runs {
			return out[i].Runs > out[j].Runs
		}
		return out[i].Task < out[j].Task
	})
	return out
}

// LastBalance returns the latest balance reading for domain.
func (s *Summary) LastBalance(domain string) (Reading, bool) {
	for i := len(s.Balances) - 1; i >= 0; i-- {
		if s.Balances[i].Domain == domain {
			return s.Balances[i], true
		}
	}
	return Reading{}, false
}

type analyzer interface {
	feed(e Entry, s *Summary)
	finalize(s *Summary)
}

var (
	startPattern     = regexp.MustCompile("^Start task `([^`]+)` \\(priority (-?\\d+)\\)")
	successPattern   = regexp.MustCompile("^Task `([^`]+)` succeeded in \\S+ \\(observed ([^)]*)\\)")
	failurePattern   = regexp.MustCompile("^Task `([^`]+)` failed \\[([^\\]]+)\\]")
	resumePattern    = regexp.MustCompile("^Resume task `([^`]+)` at step (\\d+)")
	interruptPattern = regexp.MustCompile("^Interrupt `([^`]+)` -> task `([^`]+)`")
	ladderPattern    = regexp.MustCompile("^Ladder `([^`]+)` stage (\\d+):")
	takeoverPattern  = regexp.MustCompile("^HUMAN TAKEOVER `([^`]+)`: (.*) \\(([^)]+)\\)$")
	fodderPattern    = regexp.MustCompile("^Fodder `([^`]+)` batch (\\d+): balance (-?\\d+), consumed (\\d+)")
)

// taskAnalyzer reconstructs task cycles. Interrupt tasks nest inside the
// suspended task, so open runs are kept on a stack.
type taskAnalyzer struct {
	open []int
	last time.Time
}

func (a *taskAnalyzer) feed(e Entry, s *Summary) {
	if !e.Time.IsZero() {
		a.last = e.Time
	}
	if m := startPattern.FindStringSubmatch(e.Message); m != nil {
		prio, _ := strconv.Atoi(m[2])
		s.Runs = append(s.Runs, TaskRun{Task: m[1], Priority: prio, Start: e.Time, Line: e.Line})
		a.open = append(a.open, len(s.Runs)-1)
		return
	}
	if m := successPattern.FindStringSubmatch(e.Message); m != nil {
		a.close(s, m[1], e.Time, true, "", m[2])
		return
	}
	if m := failurePattern.FindStringSubmatch(e.Message); m != nil {
		a.close(s, m[1], e.Time, false, m[2], "")
		return
	}
	if m := resumePattern.FindStringSubmatch(e.Message); m != nil {
		if i := a.find(s, m[1]); i >= 0 {
			s.Runs[a.open[i]].Resumes++
		}
	}
}

func (a *taskAnalyzer) find(s *Summary, task string) int {
	for i := len(a.open) - 1; i >= 0; i-- {
		if s.Runs[a.open[i]].Task == task {
			return i
		}
	}
	return -1
}

func (a *taskAnalyzer) close(s *Summary, task string, at time.Time, ok bool, kind, observed string) {
	if i := a.find(s, task); i >= 0 {
		run := &s.Runs[a.open[i]]
		run.End = at
		run.Success = ok
		run.Finished = true
		run.ErrorKind = kind
		run.Observed = observed
		if !run.Start.IsZero() && !at.IsZero() {
			run.Duration = at.Sub(run.Start)
		}
		a.open = append(a.open[:i], a.open[i+1:]...)
	}
}

func (a *taskAnalyzer) finalize(s *Summary) {
	for _, i := range a.open {
		run := &s.Runs[i]
		if !run.Start.IsZero() && !a.last.IsZero() {
			run.Duration = a.last.Sub(run.Start)
		}
	}
	a.open = nil
}

type errorAnalyzer struct{}

func (errorAnalyzer) feed(e Entry, s *Summary) {
	switch e.Level {
	case "ERROR":
		s.Errors = append(s.Errors, e)
	case "WARN":
		s.Warnings++
	}
	if m := failurePattern.FindStringSubmatch(e.Message); m != nil {
		s.ErrorKinds[m[2]]++
	}
}

func (errorAnalyzer) finalize(*Summary) {}

type interruptAnalyzer struct{}

func (interruptAnalyzer) feed(e Entry, s *Summary) {
	if m := interruptPattern.FindStringSubmatch(e.Message); m != nil {
		s.Interrupts[m[1]]++
	}
	if m := ladderPattern.FindStringSubmatch(e.Message); m != nil {
		stage, _ := strconv.Atoi(m[2])
		s.LadderStages[stage]++
	}
}

func (interruptAnalyzer) finalize(*Summary) {}

type escalationAnalyzer struct{}

func (escalationAnalyzer) feed(e Entry, s *Summary) {
	if m := takeoverPattern.FindStringSubmatch(e.Message); m != nil {
		s.Takeovers = append(s.Takeovers, Takeover{Domain: m[1], Reason: m[2], ID: m[3], Time: e.Time})
	}
}

func (escalationAnalyzer) finalize(*Summary) {}

type resourceAnalyzer struct{}

func (resourceAnalyzer) feed(e Entry, s *Summary) {
	m := fodderPattern.FindStringSubmatch(e.Message)
	if m == nil {
		return
	}
	batch, _ := strconv.Atoi(m[2])
	balance, _ := strconv.Atoi(m[3])
	consumed, _ := strconv.Atoi(m[4])
	s.Balances = append(s.Balances, Reading{Domain: m[1], Batch: batch, Balance: balance, Consumed: consumed, Time: e.Time})
	s.Consumed[m[1]] += consumed
}

func (resourceAnalyzer) finalize(*Summary) {}

// Analyze runs every analyzer over entries.
func Analyze(entries []Entry) *Summary {
	s := &Summary{
		Entries:      len(entries),
		ErrorKinds:   make(map[string]int),
		Interrupts:   make(map[string]int),
		LadderStages: make(map[int]int),
		Consumed:     make(map[string]int),
	}
	analyzers := []analyzer{
		errorAnalyzer{},
		&taskAnalyzer{},
		interruptAnalyzer{},
		escalationAnalyzer{},
		resourceAnalyzer{},
	}
	for _, e := range entries {
		if !e.Time.IsZero() {
			if s.Start.IsZero() {
				s.Start = e.Time
			}
			s.End = e.Time
		}
		for _, a := range analyzers {
			a.feed(e, s)
		}
	}
	for _, a := range analyzers {
		a.finalize(s)
	}
	return s
}

// Parse reads a run log and summarizes it.
func Parse(r io.Reader) (*Summary, error) {
	entries, err := Entries(r)
	if err != nil {
		return nil, err
	}
	return Analyze(entries), nil
}
