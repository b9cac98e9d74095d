package conditional

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Violation describes one problem found in a question's visibility rule.
// QuestionIndex and QuestionKey identify the offending question;
// ConditionIndex identifies the condition within its rule, or -1 when the
// problem is with the rule as a whole.
type Violation struct {
	QuestionIndex  int    `json:"questionIndex"`
	QuestionKey    string `json:"questionKey"`
	ConditionIndex int    `json:"conditionIndex"`
	Message        string `json:"message"`
}

// Validate checks every rule in the question list and returns the full set
// of violations rather than stopping at the first. An empty result means
// the rules are well formed.
//
// Checked per condition: known operator, the referenced key exists, no
// self-reference, and no forward reference (a question may only depend on
// questions declared before it). Checked per rule: known combinator.
// Dependency cycles across rules are reported once per participating
// question.
func Validate(questions []models.Question) []Violation {
	violations := []Violation{}

	keyIndex := make(map[string]int, len(questions))
	for i, question := range questions {
		keyIndex[question.Key] = i
	}

	// edges[i] holds the indexes question i depends on, used below for
	// cycle detection.
	edges := make(map[int][]int, len(questions))

	for i, question := range questions {
		rule := question.Rule
		if rule == nil {
			continue
		}

		if rule.Logic != models.LogicAnd && rule.Logic != models.LogicOr {
			violations = append(violations, Violation{
				QuestionIndex:  i,
				QuestionKey:    question.Key,
				ConditionIndex: -1,
				Message:        fmt.Sprintf("unknown combinator %q", rule.Logic),
			})
		}

		for j, condition := range rule.Conditions {
			if condition.Operator != models.OperatorEquals &&
				condition.Operator != models.OperatorNotEquals &&
				condition.Operator != models.OperatorContains {
				violations = append(violations, Violation{
					QuestionIndex:  i,
					QuestionKey:    question.Key,
					ConditionIndex: j,
					Message:        fmt.Sprintf("unknown operator %q", condition.Operator),
				})
			}

			target, exists := keyIndex[condition.Field]
			switch {
			case !exists:
				violations = append(violations, Violation{
					QuestionIndex:  i,
					QuestionKey:    question.Key,
					ConditionIndex: j,
					Message:        fmt.Sprintf("references unknown question %q", condition.Field),
				})
			case target == i:
				violations = append(violations, Violation{
					QuestionIndex:  i,
					QuestionKey:    question.Key,
					ConditionIndex: j,
					Message:        "question references itself",
				})
			case target > i:
				violations = append(violations, Violation{
					QuestionIndex:  i,
					QuestionKey:    question.Key,
					ConditionIndex: j,
					Message:        fmt.Sprintf("references later question %q, rules may only depend on earlier questions", condition.Field),
				})
				edges[i] = append(edges[i], target)
			default:
				edges[i] = append(edges[i], target)
			}
		}
	}

	for _, i := range detectCycles(len(questions), edges) {
		violations = append(violations, Violation{
			QuestionIndex:  i,
			QuestionKey:    questions[i].Key,
			ConditionIndex: -1,
			Message:        "question is part of a rule dependency cycle",
		})
	}

	return violations
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// detectCycles runs a colored depth-first search over the dependency graph
// and returns the indexes of questions on a cycle, in declared order.
func detectCycles(n int, edges map[int][]int) []int {
	colors := make([]int, n)
	onCycle := make([]bool, n)

	var visit func(node int, path []int) []int
	visit = func(node int, path []int) []int {
		colors[node] = colorGray
		path = append(path, node)

		for _, next := range edges[node] {
			switch colors[next] {
			case colorGray:
				// Everything from next back to node closes the loop.
				start := 0
				for k, p := range path {
					if p == next {
						start = k
						break
					}
				}
				for _, p := range path[start:] {
					onCycle[p] = true
				}
			case colorWhite:
				path = visit(next, path)
			}
		}

		colors[node] = colorBlack
		return path[:len(path)-1]
	}

	for i := 0; i < n; i++ {
		if colors[i] == colorWhite {
			visit(i, nil)
		}
	}

	cycled := []int{}
	for i, on := range onCycle {
		if on {
			cycled = append(cycled, i)
		}
	}
	return cycled
}
