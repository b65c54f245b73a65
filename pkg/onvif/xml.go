package onvif

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// parseBody returns SOAP Body element or error from SOAP Fault
func parseBody(b []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, errors.Annotate(err, "onvif: broken xml")
	}

	body := doc.FindElement("//Body")
	if body == nil {
		return nil, errors.New("onvif: response without body")
	}

	if fault := body.FindElement("Fault"); fault != nil {
		return nil, faultError(fault)
	}

	return body, nil
}

func faultError(fault *etree.Element) error {
	// SOAP 1.2: Reason/Text, SOAP 1.1: faultstring
	reason := findText(fault, "Reason/Text")
	if reason == "" {
		reason = findText(fault, "faultstring")
	}

	code := findText(fault, "Code/Subcode/Value")
	if code == "" {
		code = findText(fault, "Code/Value")
	}

	switch {
	case reason != "" && code != "":
		return errors.Errorf("onvif: %s (%s)", reason, code)
	case reason != "":
		return errors.Errorf("onvif: %s", reason)
	case code != "":
		return errors.Errorf("onvif: fault %s", code)
	}
	return errors.New("onvif: unknown fault")
}

func findText(el *etree.Element, path string) string {
	if el = el.FindElement(path); el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

func parseCapabilities(body *etree.Element) map[string]string {
	services := map[string]string{}
	for _, name := range []string{"Media", "PTZ", "Imaging"} {
		if s := findText(body, "//Capabilities/"+name+"/XAddr"); s != "" {
			services[strings.ToLower(name)] = s
		}
	}
	return services
}

func parseDeviceInformation(body *etree.Element) *Info {
	el := body.FindElement("GetDeviceInformationResponse")
	if el == nil {
		el = body
	}
	return &Info{
		Manufacturer:    findText(el, "Manufacturer"),
		Model:           findText(el, "Model"),
		FirmwareVersion: findText(el, "FirmwareVersion"),
		SerialNumber:    findText(el, "SerialNumber"),
		HardwareID:      findText(el, "HardwareId"),
	}
}

func parseProfiles(body *etree.Element) []*Profile {
	var profiles []*Profile
	for _, el := range body.FindElements("//Profiles[@token]") {
		profiles = append(profiles, &Profile{
			Token: el.SelectAttrValue("token", ""),
			Name:  findText(el, "Name"),
			PTZ:   el.FindElement("PTZConfiguration") != nil,
		})
	}
	return profiles
}

// parseSystemDateAndTime returns camera UTC time, zero time if not present
func parseSystemDateAndTime(body *etree.Element) time.Time {
	el := body.FindElement("//UTCDateTime")
	if el == nil {
		return time.Time{}
	}

	atoi := func(path string) int {
		i, _ := strconv.Atoi(findText(el, path))
		return i
	}

	return time.Date(
		atoi("Date/Year"), time.Month(atoi("Date/Month")), atoi("Date/Day"),
		atoi("Time/Hour"), atoi("Time/Minute"), atoi("Time/Second"), 0, time.UTC,
	)
}
