package lifecycle

import "encoding/json"

func marshalSubmission(s *Submission) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalSubmission(data []byte) (*Submission, error) {
	var s Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
