package event

import "strconv"

// Parameter names injected into every run, ahead of pipeline variables.
// The dot in each name keeps user variables from colliding with them:
// variable names admit only letters, digits and underscore.
const (
	ParamEventType     = "ci.event"
	ParamEventPayload  = "ci.event_payload"
	ParamBranch        = "ci.branch"
	ParamActor         = "ci.actor"
	ParamSHA           = "ci.sha"
	ParamShortSHA      = "ci.sha_short"
	ParamCommitMessage = "ci.commit_message"
	ParamHeadRef       = "ci.head_ref"
	ParamBaseRef       = "ci.base_ref"
	ParamMergeIID      = "ci.mr_iid"
	ParamSourceURL     = "ci.mr_source_url"
	ParamTargetURL     = "ci.mr_target_url"
)

// Pair is one start parameter. Order matters downstream: parameters are
// forwarded to the engine in the order returned here.
type Pair struct {
	Key   string
	Value string
}

// StartParams returns the event-derived start parameters, common ones first
// then kind-specific ones.
func (e *RequestEvent) StartParams() []Pair {
	params := []Pair{
		{ParamEventType, string(e.ObjectKind)},
		{ParamEventPayload, e.RawPayload},
		{ParamBranch, e.Branch},
		{ParamActor, e.UserID},
		{ParamSHA, e.CommitID},
		{ParamShortSHA, e.ShortSHA()},
		{ParamCommitMessage, e.CommitMessage},
	}

	if e.ObjectKind == KindMergeRequest {
		if e.MergeRequestID != nil {
			params = append(params, Pair{ParamMergeIID, strconv.FormatInt(*e.MergeRequestID, 10)})
		}
		params = append(params,
			Pair{ParamHeadRef, e.SourceBranch},
			Pair{ParamBaseRef, e.TargetBranch},
			Pair{ParamSourceURL, e.SourceURL},
			Pair{ParamTargetURL, e.TargetURL},
		)
	}
	return params
}
