package record

// requiredTags lists, per kind, the tag names that must be present with a
// non-empty value. Changing any of these sets is a protocol break.
var requiredTags = map[Kind][]string{
	KindCampaign:     {tagLocalID, tagTitle, tagBudget, tagRates, tagPlatforms, tagStart, tagEnd, tagStatus},
	KindApplication:  {tagLocalID, tagCampaign, tagBusiness, tagHandles, tagStatus},
	KindReport:       {tagLocalID, tagCampaign, tagBusiness, tagPlatform, tagPostURL, tagMetrics, tagAmount},
	KindVerification: {tagReport, tagVerified},
	KindPaymentClaim: {tagReport, tagPreimage},
}

// campaignStatusAllowList is the fixed set of campaign statuses.
var campaignStatusAllowList = map[string]bool{
	string(CampaignActive):    true,
	string(CampaignPaused):    true,
	string(CampaignCompleted): true,
}

// applicationStatusAllowList is the fixed set of application statuses.
var applicationStatusAllowList = map[string]bool{
	string(ApplicationPending):  true,
	string(ApplicationApproved): true,
	string(ApplicationRejected): true,
}

// Valid applies the structural gate to a raw record before decoding:
// known kind, required tags present and non-empty, enumerated values in
// their case-sensitive allow-lists, and parsable date tags. Records that
// fail are background noise from an adversarial network and are dropped
// silently by callers, never surfaced as errors.
func Valid(r RawRecord) bool {
	if !r.Kind.Known() {
		return false
	}

	for _, name := range requiredTags[r.Kind] {
		v, ok := r.TagValue(name)
		if !ok || v == "" {
			return false
		}
	}

	switch r.Kind {
	case KindCampaign:
		return validCampaignTags(r)
	case KindApplication:
		return validApplicationTags(r)
	case KindReport:
		return validReportTags(r)
	case KindVerification:
		return validVerificationTags(r)
	default:
		return true
	}
}

// validCampaignTags checks campaign enums and dates.
func validCampaignTags(r RawRecord) bool {
	status, _ := r.TagValue(tagStatus)
	if !campaignStatusAllowList[status] {
		return false
	}

	for _, name := range []string{tagStart, tagEnd} {
		v, _ := r.TagValue(name)
		if _, err := parseTimestamp(v); err != nil {
			return false
		}
	}

	platforms, _ := r.TagValue(tagPlatforms)
	for _, p := range parseList(platforms) {
		if !platformAllowList[p] {
			return false
		}
	}

	return true
}

// validApplicationTags checks application enums.
func validApplicationTags(r RawRecord) bool {
	status, _ := r.TagValue(tagStatus)
	return applicationStatusAllowList[status]
}

// validReportTags checks the report platform enum.
func validReportTags(r RawRecord) bool {
	platform, _ := r.TagValue(tagPlatform)
	return platformAllowList[platform]
}

// validVerificationTags checks the verified flag enum.
func validVerificationTags(r RawRecord) bool {
	flag, _ := r.TagValue(tagVerified)
	return flag == "true" || flag == "false"
}
