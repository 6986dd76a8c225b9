package sapn

import (
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

const viewStateField = "com.salesforce.visualforce.ViewState"
const viewStateVersionField = "com.salesforce.visualforce.ViewStateVersion"
const viewStateMACField = "com.salesforce.visualforce.ViewStateMAC"

// extractViewState pulls the three rotating hidden fields out of a rendered
// form page. All three are required: a page missing any of them is not the
// form we expect (error page, maintenance page, or the markup changed), which
// is a hard failure for the whole attempt, not something to retry here.
func extractViewState(doc *goquery.Document) (ViewState, error) {
	tokens := ViewState{
		State:   hiddenFieldValue(doc, viewStateField),
		Version: hiddenFieldValue(doc, viewStateVersionField),
		MAC:     hiddenFieldValue(doc, viewStateMACField),
	}
	if tokens.State == "" {
		return ViewState{}, ErrTokenNotFound.Here().Append(viewStateField)
	}
	if tokens.Version == "" {
		return ViewState{}, ErrTokenNotFound.Here().Append(viewStateVersionField)
	}
	if tokens.MAC == "" {
		return ViewState{}, ErrTokenNotFound.Here().Append(viewStateMACField)
	}
	return tokens, nil
}

func hiddenFieldValue(doc *goquery.Document, name string) string {
	return doc.Find("input[name='" + name + "']").AttrOr("value", "")
}

var csrfRegex = regexp.MustCompile(`"csrf"\s*:\s*"([^"]+)"`)
var vidRegex = regexp.MustCompile(`"vid"\s*:\s*"([^"]+)"`)
var verRegex = regexp.MustCompile(`"ver"\s*:\s*(\d+)`)

// extractRemotingContext scrapes the remote-call context out of the request
// page's inline script. Rotates per page load, same as the view state.
func extractRemotingContext(html string) (remotingContext, error) {
	csrf := csrfRegex.FindStringSubmatch(html)
	if csrf == nil {
		return remotingContext{}, ErrTokenNotFound.Here().Append("remoting csrf")
	}
	vid := vidRegex.FindStringSubmatch(html)
	if vid == nil {
		return remotingContext{}, ErrTokenNotFound.Here().Append("remoting vid")
	}
	rctx := remotingContext{CSRF: csrf[1], VID: vid[1], Ver: 42}
	if ver := verRegex.FindStringSubmatch(html); ver != nil {
		if n, err := strconv.Atoi(ver[1]); err == nil {
			rctx.Ver = n
		}
	}
	return rctx, nil
}
